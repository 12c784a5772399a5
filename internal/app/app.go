package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/agent"
	"github.com/feichai0017/document-ingestor/internal/agent/document/pdf"
	"github.com/feichai0017/document-ingestor/internal/agent/embedding"
	"github.com/feichai0017/document-ingestor/internal/agent/generation"
	"github.com/feichai0017/document-ingestor/internal/service/document"
	"github.com/feichai0017/document-ingestor/internal/service/query"
	"github.com/feichai0017/document-ingestor/internal/text"
	"github.com/feichai0017/document-ingestor/internal/utils/validator"
	"github.com/feichai0017/document-ingestor/internal/vectorstore"
	"github.com/feichai0017/document-ingestor/pkg/fetch"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/storage"
)

// NewLogger builds the process logger: stdout plus an optional rotated file.
func NewLogger(c cfg.LogConfig) (logger.Logger, error) {
	outputs := []string{"stdout"}
	if c.File != "" {
		outputs = append(outputs, c.File)
	}
	// errors already reach every output
	return logger.NewLogger(
		logger.WithLevel(c.Level),
		logger.WithEncoding(c.Encoding),
		logger.WithOutputPaths(outputs),
		logger.WithErrorPaths(nil),
	)
}

// App holds the components shared by the server and the worker.
type App struct {
	Config   *cfg.Config
	Store    *vectorstore.Store
	Ingestor *document.Ingestor
	Query    *query.Service
	// Archive is nil unless INGEST_ARCHIVE_BACKEND is set.
	Archive storage.Storage

	logger  logger.Logger
	closers []io.Closer
}

// New wires tenants, model clients, extractor and ingestor from config.
func New(ctx context.Context, config *cfg.Config, log logger.Logger) (*App, error) {
	tenants, err := cfg.LoadTenants(config.TenantsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	log.Info("Tenants loaded", logger.Strings("tenants", tenants.Names()))

	a := &App{
		Config: config,
		Store:  vectorstore.NewStore(vectorstore.NewRegistry(tenants, log.Named("registry")), log.Named("vectorstore")),
		logger: log,
	}

	embedder, err := embedding.NewFromConfig(ctx, config, log.Named("embedding"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.track(embedder)

	generator, err := generation.NewFromConfig(ctx, config, log.Named("generation"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	a.track(generator)

	openStorage := memoizedStorage(config, log.Named("storage"))
	extractor, err := agent.NewExtractor(ctx, config, openStorage, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var opts []document.Option
	if config.Ingest.ArchiveBackend != "" {
		a.Archive, err = openStorage(ctx, storage.StorageType(config.Ingest.ArchiveBackend))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to open archive storage: %w", err)
		}
		opts = append(opts, document.WithArchive(a.Archive))
	}

	fetcher := fetch.NewClient(fetch.Options{
		MaxBytes: config.Ingest.MaxDownloadBytes,
		Timeout:  config.Ingest.DownloadTimeout,
		RetryMax: config.Ingest.DownloadRetryMax,
	}, log.Named("fetch"))
	docValidator := validator.NewDocumentValidator(log.Named("validator"), &validator.ValidatorConfig{
		MaxFileSize: config.Ingest.MaxDownloadBytes,
	})

	a.Ingestor = document.NewIngestor(
		fetcher,
		docValidator,
		pdf.NewSplitter(config.Ingest.PagesPerRange),
		extractor,
		embedder,
		a.Store,
		log.Named("ingestor"),
		document.IngestorConfig{
			PagesPerRange: config.Ingest.PagesPerRange,
			Chunking: text.Options{
				MaxChars:       config.Chunk.MaxChars,
				Overlap:        config.Chunk.Overlap,
				BoundaryWindow: text.DefaultBoundaryWindow,
			},
			FailurePolicy: config.Ingest.FailurePolicy,
			WorkspaceDir:  config.Ingest.WorkspaceDir,
		},
		opts...,
	)
	a.Query = query.NewService(embedder, a.Store, generator, log.Named("query"))
	return a, nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Close releases model clients and tenant connection pools.
func (a *App) Close() error {
	errs := []error{a.Store.CloseAll()}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// memoizedStorage opens each backend at most once.
func memoizedStorage(config *cfg.Config, log logger.Logger) agent.StorageFactory {
	var mu sync.Mutex
	opened := make(map[storage.StorageType]storage.Storage)

	return func(ctx context.Context, t storage.StorageType) (storage.Storage, error) {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := opened[t]; ok {
			return s, nil
		}
		s, err := storage.NewStorage(ctx, t, config, log)
		if err != nil {
			return nil, err
		}
		opened[t] = s
		return s, nil
	}
}

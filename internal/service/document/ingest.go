package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/document-ingestor/internal/agent/document"
	"github.com/feichai0017/document-ingestor/internal/agent/embedding"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/text"
	"github.com/feichai0017/document-ingestor/internal/utils/validator"
	"github.com/feichai0017/document-ingestor/internal/vectorstore"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/storage"
)

const (
	PolicyAbort       = "abort"
	PolicyPlaceholder = "placeholder"

	sourceFileName = "source.pdf"
)

type Fetcher interface {
	Download(ctx context.Context, url, dst string) (int64, error)
}

type Validator interface {
	ValidateFile(path string) (*validator.FileInfo, error)
}

type Splitter interface {
	PageCount(doc []byte) (int, error)
	Plan(pageCount int) []models.PageRange
	ExtractRange(doc []byte, r models.PageRange) ([]byte, error)
}

type VectorStore interface {
	HasTenant(tenant string) bool
	EnsureSchema(ctx context.Context, tenant string) error
	InsertBatch(ctx context.Context, tenant string, b vectorstore.Batch) (int, error)
	CountByTask(ctx context.Context, tenant, taskID string) (int, error)
	DeleteByTask(ctx context.Context, tenant, taskID string) (int64, error)
}

// StageReporter is told about every state transition of a task.
type StageReporter interface {
	ReportStage(ctx context.Context, taskID string, stage models.Stage)
}

type IngestorConfig struct {
	PagesPerRange int
	Chunking      text.Options
	// FailurePolicy is PolicyAbort or PolicyPlaceholder.
	FailurePolicy string
	// WorkspaceDir is the parent of task workspaces; empty means os.TempDir.
	WorkspaceDir string
}

// Ingestor runs one ingestion task from source URL to stored embeddings.
type Ingestor struct {
	fetcher   Fetcher
	validator Validator
	splitter  Splitter
	extractor document.Extractor
	embedder  embedding.Embedder
	store     VectorStore
	archive   storage.Storage
	logger    logger.Logger
	config    IngestorConfig
}

type Option func(*Ingestor)

// WithArchive keeps a copy of every source document in s.
func WithArchive(s storage.Storage) Option {
	return func(i *Ingestor) {
		i.archive = s
	}
}

func NewIngestor(
	fetcher Fetcher,
	validator Validator,
	splitter Splitter,
	extractor document.Extractor,
	embedder embedding.Embedder,
	store VectorStore,
	log logger.Logger,
	config IngestorConfig,
	opts ...Option,
) *Ingestor {
	if config.PagesPerRange <= 0 {
		config.PagesPerRange = 10
	}
	if config.Chunking == (text.Options{}) {
		config.Chunking = text.DefaultOptions()
	}
	if config.FailurePolicy == "" {
		config.FailurePolicy = PolicyAbort
	}

	i := &Ingestor{
		fetcher:   fetcher,
		validator: validator,
		splitter:  splitter,
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		logger:    log,
		config:    config,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// unit is one piece of the source handed to the extractor.
type unit struct {
	pages models.PageRange
	doc   []byte
}

// run holds the state of one task.
type run struct {
	task     models.IngestionTask
	tenant   string
	log      logger.Logger
	reporter StageReporter

	workspace string
	prepared  bool
	texts     []string
	chunks    int
	vectors   int
	pages     int
	ranges    int
}

func (r *run) stage(ctx context.Context, s models.Stage) {
	r.log.Debug("Stage", logger.String("stage", string(s)))
	if r.reporter != nil {
		r.reporter.ReportStage(ctx, r.task.ProcessTaskID, s)
	}
}

// Ingest downloads, splits, extracts, chunks, embeds and stores one document.
// reporter may be nil. The workspace is removed on every exit path.
func (i *Ingestor) Ingest(ctx context.Context, task models.IngestionTask, reporter StageReporter) (*models.IngestionSummary, error) {
	tenant := task.DBName
	if tenant == "" {
		tenant = models.DefaultTenant
	}

	r := &run{
		task:     task,
		tenant:   tenant,
		reporter: reporter,
		log: i.logger.With(
			logger.String("taskId", task.ProcessTaskID),
			logger.String("tenant", tenant),
		),
	}

	summary, err := i.ingest(ctx, r)
	if err != nil {
		r.stage(ctx, models.StageFailed)
		r.log.Error("Ingestion failed", logger.Error(err))
		return nil, err
	}

	r.stage(ctx, models.StageDone)
	r.log.Info("Ingestion completed",
		logger.Int("pages", summary.Pages),
		logger.Int("ranges", summary.Ranges),
		logger.Int("chunks", summary.ChunksCreated),
		logger.Int("storedRecords", summary.StoredRecords),
		logger.Bool("verified", summary.Verified),
	)
	return summary, nil
}

func (i *Ingestor) ingest(ctx context.Context, r *run) (*models.IngestionSummary, error) {
	if r.task.ProcessTaskID == "" {
		return nil, fmt.Errorf("%w: process task id is required", models.ErrInvalidOptions)
	}
	if r.task.FileURL == "" {
		return nil, fmt.Errorf("%w: file url is required", models.ErrInvalidOptions)
	}
	if !i.store.HasTenant(r.tenant) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTenant, r.tenant)
	}

	r.stage(ctx, models.StageFetching)
	workspace, err := os.MkdirTemp(i.config.WorkspaceDir, workspacePattern(r.task.ProcessTaskID))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	r.workspace = workspace
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			r.log.Warn("Failed to remove workspace", logger.String("workspace", workspace), logger.Error(err))
		}
	}()

	doc, err := i.fetch(ctx, r)
	if err != nil {
		return nil, err
	}

	r.stage(ctx, models.StageSplitting)
	units, err := i.split(r, doc)
	if err != nil {
		return nil, err
	}
	r.ranges = len(units)

	for _, u := range units {
		if err := i.processUnit(ctx, r, u); err != nil {
			return nil, err
		}
	}

	// a task with no chunks still replaces rows of an earlier attempt
	if err := i.prepare(ctx, r); err != nil {
		return nil, err
	}

	r.stage(ctx, models.StageVerifying)
	stored, verified := i.verify(ctx, r)

	return &models.IngestionSummary{
		Text:              text.Truncate(strings.Join(r.texts, "\n"), models.SummaryTextLimit),
		ChunksCreated:     r.chunks,
		EmbeddingsCreated: r.vectors,
		Pages:             r.pages,
		Ranges:            r.ranges,
		StoredRecords:     stored,
		Verified:          verified,
	}, nil
}

// fetch downloads and validates the source, returning its bytes.
func (i *Ingestor) fetch(ctx context.Context, r *run) ([]byte, error) {
	path := filepath.Join(r.workspace, sourceFileName)
	size, err := i.fetcher.Download(ctx, r.task.FileURL, path)
	if err != nil {
		return nil, err
	}

	info, err := i.validator.ValidateFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloaded document: %w", err)
	}

	r.log.Info("Document downloaded",
		logger.String("url", r.task.FileURL),
		logger.Int64("bytes", size),
		logger.String("hash", info.Hash),
	)

	if i.archive != nil {
		i.archiveSource(ctx, r, path)
	}
	return doc, nil
}

// archiveSource copies the source into object storage. Failures are logged only.
func (i *Ingestor) archiveSource(ctx context.Context, r *run, path string) {
	f, err := os.Open(path)
	if err != nil {
		r.log.Warn("Failed to open source for archiving", logger.Error(err))
		return
	}
	defer f.Close()

	key := fmt.Sprintf("sources/%s/%s.pdf", r.tenant, r.task.ProcessTaskID)
	if _, err := i.archive.Store(ctx, f, key); err != nil {
		r.log.Warn("Failed to archive source document", logger.String("key", key), logger.Error(err))
		return
	}
	r.log.Debug("Archived source document", logger.String("key", key))
}

// split returns the units to extract, materializing each range of a large
// document as part_NNN.pdf in the workspace.
func (i *Ingestor) split(r *run, doc []byte) ([]unit, error) {
	count, err := i.splitter.PageCount(doc)
	if err != nil {
		r.log.Warn("Page count unknown, processing document as one unit", logger.Error(err))
		return []unit{{doc: doc}}, nil
	}
	r.pages = count

	if count <= i.config.PagesPerRange {
		return []unit{{pages: models.PageRange{Start: 0, End: count}, doc: doc}}, nil
	}

	plan := i.splitter.Plan(count)
	units := make([]unit, 0, len(plan))
	for n, pr := range plan {
		part, err := i.splitter.ExtractRange(doc, pr)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to split pages %s: %w", models.ErrInvalidDocument, pr, err)
		}

		path := filepath.Join(r.workspace, fmt.Sprintf("part_%03d.pdf", n))
		if err := os.WriteFile(path, part, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		units = append(units, unit{pages: pr, doc: part})
	}

	r.log.Info("Document split",
		logger.Int("pages", count),
		logger.Int("ranges", len(units)),
	)
	return units, nil
}

func (i *Ingestor) processUnit(ctx context.Context, r *run, u unit) error {
	log := r.log.With(logger.String("pages", u.pages.String()))

	r.stage(ctx, models.StageExtracting)
	extracted, err := i.extractor.Extract(ctx, u.doc)
	if err != nil {
		if ctx.Err() != nil || i.config.FailurePolicy != PolicyPlaceholder {
			if !errors.Is(err, models.ErrExtractionFailed) {
				err = fmt.Errorf("%w: %w", models.ErrExtractionFailed, err)
			}
			return fmt.Errorf("pages %s: %w", u.pages, err)
		}
		log.Warn("Text extraction failed, storing placeholder",
			logger.String("extractor", i.extractor.Name()),
			logger.Error(err),
		)
		extracted = document.PlaceholderText
	}
	r.texts = append(r.texts, extracted)

	r.stage(ctx, models.StageChunking)
	chunks, err := text.Split(extracted, i.config.Chunking)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		log.Info("No text in range")
		return nil
	}

	r.stage(ctx, models.StageEmbedding)
	vectors, err := i.embedder.Embed(ctx, chunks)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", models.ErrEmbeddingFailed, len(vectors), len(chunks))
	}

	if err := i.prepare(ctx, r); err != nil {
		return err
	}

	r.stage(ctx, models.StageInserting)
	n, err := i.store.InsertBatch(ctx, r.tenant, vectorstore.Batch{
		TaskID:    r.task.ProcessTaskID,
		BaseIndex: r.chunks,
		Pages:     u.pages,
		Chunks:    chunks,
		Vectors:   vectors,
	})
	if err != nil {
		return err
	}

	r.chunks += len(chunks)
	r.vectors += len(vectors)
	log.Info("Range stored",
		logger.Int("chunks", len(chunks)),
		logger.Int("inserted", n),
	)
	return nil
}

// prepare provisions the tenant schema and clears rows of earlier attempts
// of the task. It runs once per task.
func (i *Ingestor) prepare(ctx context.Context, r *run) error {
	if r.prepared {
		return nil
	}

	r.stage(ctx, models.StageSchemaEnsuring)
	if err := i.store.EnsureSchema(ctx, r.tenant); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	deleted, err := i.store.DeleteByTask(ctx, r.tenant, r.task.ProcessTaskID)
	if err != nil {
		return fmt.Errorf("%w: failed to clear previous records: %w", models.ErrInsertFailed, err)
	}
	if deleted > 0 {
		r.log.Info("Replaced records of earlier attempt", logger.Int64("deleted", deleted))
	}

	r.prepared = true
	return nil
}

// verify compares stored rows with produced chunks. A mismatch is reported,
// not treated as failure.
func (i *Ingestor) verify(ctx context.Context, r *run) (int, bool) {
	stored, err := i.store.CountByTask(ctx, r.tenant, r.task.ProcessTaskID)
	if err != nil {
		r.log.Warn("Verification query failed", logger.Error(err))
		return 0, false
	}
	if stored != r.chunks {
		r.log.Warn("Stored record count does not match chunk count",
			logger.Int("stored", stored),
			logger.Int("chunks", r.chunks),
		)
		return stored, false
	}
	return stored, true
}

// workspacePattern builds an os.MkdirTemp pattern from a task id.
func workspacePattern(taskID string) string {
	safe := strings.Map(func(c rune) rune {
		if c == '/' || c == '\\' || c == os.PathSeparator || c == '*' {
			return '_'
		}
		return c
	}, taskID)
	return "procdoc_" + safe + "_*"
}

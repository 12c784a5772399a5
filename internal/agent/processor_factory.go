package agent

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/agent/document"
	"github.com/feichai0017/document-ingestor/internal/agent/document/pdf"
	"github.com/feichai0017/document-ingestor/internal/agent/document/textract"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/storage"
)

// StorageFactory opens an object store on demand, so backends that are not
// configured are never dialled.
type StorageFactory func(ctx context.Context, t storage.StorageType) (storage.Storage, error)

// NewExtractor returns the extractor selected by config.Extractor.
func NewExtractor(ctx context.Context, config *cfg.Config, openStorage StorageFactory, log logger.Logger) (document.Extractor, error) {
	log.Info("Creating text extractor", logger.String("extractor", config.Extractor))

	switch config.Extractor {
	case cfg.ExtractorLocal:
		return pdf.NewTextExtractor(log.Named("pdf"), 0), nil
	case cfg.ExtractorTextract:
		staging, err := openStorage(ctx, storage.StorageTypeS3)
		if err != nil {
			return nil, fmt.Errorf("failed to open textract staging bucket: %w", err)
		}
		extractor, err := textract.NewFromConfig(ctx, config.S3, config.Textract, staging, log.Named("textract"))
		if err != nil {
			return nil, fmt.Errorf("failed to create textract extractor: %w", err)
		}
		return extractor, nil
	default:
		return nil, fmt.Errorf("unsupported extractor: %s", config.Extractor)
	}
}

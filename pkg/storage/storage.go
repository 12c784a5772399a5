package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/storage/minio"
	"github.com/feichai0017/document-ingestor/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage is an object store used for Textract staging and source archives.
type Storage interface {
	// Store writes reader under key and returns the stored key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects last modified before threshold.
	CleanupBefore(ctx context.Context, threshold time.Time) error
	Bucket() string
}

func NewStorage(ctx context.Context, storageType StorageType, config *cfg.Config, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, config.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, config.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

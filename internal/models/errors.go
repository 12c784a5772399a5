package models

import "errors"

// Error kinds shared across component boundaries. Components wrap the
// underlying cause, e.g. fmt.Errorf("%w: %w", ErrEmbeddingFailed, err).
var (
	ErrUnknownTenant    = errors.New("unknown tenant")
	ErrInvalidOptions   = errors.New("invalid configuration")
	ErrDownload         = errors.New("download failed")
	ErrInvalidDocument  = errors.New("invalid document")
	ErrExtractionFailed = errors.New("text extraction failed")
	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrInsertFailed     = errors.New("insert failed")
)

// IsConfigurationError reports errors that must never be retried and are
// the caller's fault (unknown tenant, bad options).
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownTenant) || errors.Is(err, ErrInvalidOptions)
}

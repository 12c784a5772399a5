package document

import (
	"context"
)

// PlaceholderText stands in for a document whose extraction failed when the
// ingestion runs with the placeholder failure policy.
const PlaceholderText = "Text extraction failed"

// Extractor turns a PDF into plain text.
type Extractor interface {
	// Extract returns the full text of doc. Provider failures are returned
	// wrapped in models.ErrExtractionFailed; an empty string is a valid result.
	Extract(ctx context.Context, doc []byte) (string, error)

	// Name identifies the backend in logs.
	Name() string
}

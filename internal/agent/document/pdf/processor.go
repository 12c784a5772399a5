package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const defaultMaxWorkers = 4

// TextExtractor reads the embedded text layer of a PDF. Scanned pages
// without a text layer yield empty text.
type TextExtractor struct {
	logger     logger.Logger
	maxWorkers int
}

func NewTextExtractor(log logger.Logger, maxWorkers int) *TextExtractor {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	return &TextExtractor{
		logger:     log,
		maxWorkers: maxWorkers,
	}
}

func (e *TextExtractor) Name() string {
	return "local"
}

func (e *TextExtractor) Extract(ctx context.Context, doc []byte) (string, error) {
	reader := bytes.NewReader(doc)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("%w: failed to open pdf: %w", models.ErrExtractionFailed, err)
	}

	numPages := pdfReader.NumPage()
	pages := make([]string, numPages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			pages[pageNum-1] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrExtractionFailed, err)
	}

	e.logger.Debug("Extracted pdf text layer",
		logger.Int("pages", numPages),
		logger.Int("bytes", len(doc)),
	)

	return strings.Join(pages, "\n"), nil
}

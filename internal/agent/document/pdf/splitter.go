package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/document-ingestor/internal/models"
)

// DefaultPagesPerRange is the largest sub-document handed to an extractor.
const DefaultPagesPerRange = 10

var ErrInvalidRange = errors.New("invalid page range")

func init() {
	// keep pdfcpu from writing a config directory under $HOME
	api.DisableConfigDir()
}

// Splitter partitions large PDFs into bounded page ranges.
type Splitter struct {
	pagesPerRange int
}

func NewSplitter(pagesPerRange int) *Splitter {
	if pagesPerRange <= 0 {
		pagesPerRange = DefaultPagesPerRange
	}
	return &Splitter{pagesPerRange: pagesPerRange}
}

// PageCount returns the number of pages in doc.
func (s *Splitter) PageCount(doc []byte) (int, error) {
	reader := bytes.NewReader(doc)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrInvalidDocument, err)
	}
	return pdfReader.NumPage(), nil
}

// Plan covers [0, pageCount) with contiguous ranges of at most pagesPerRange
// pages. A non-positive count yields an empty plan.
func (s *Splitter) Plan(pageCount int) []models.PageRange {
	if pageCount <= 0 {
		return nil
	}

	ranges := make([]models.PageRange, 0, (pageCount+s.pagesPerRange-1)/s.pagesPerRange)
	for start := 0; start < pageCount; start += s.pagesPerRange {
		ranges = append(ranges, models.PageRange{
			Start: start,
			End:   min(start+s.pagesPerRange, pageCount),
		})
	}
	return ranges
}

// ExtractRange writes the pages of r as a standalone PDF.
func (s *Splitter) ExtractRange(doc []byte, r models.PageRange) ([]byte, error) {
	if r.Start < 0 || r.End <= r.Start {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}

	count, err := s.PageCount(doc)
	if err != nil {
		return nil, err
	}
	if r.End > count {
		return nil, fmt.Errorf("%w: %s exceeds %d pages", ErrInvalidRange, r, count)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	// pdfcpu page selections are 1-based and inclusive
	selection := []string{fmt.Sprintf("%d-%d", r.Start+1, r.End)}

	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(doc), &out, selection, conf); err != nil {
		return nil, fmt.Errorf("failed to materialize pages %s: %w", r, err)
	}
	return out.Bytes(), nil
}

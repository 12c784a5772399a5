package pdf

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/testutil"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

func numberedPages(n int) []string {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf("Page marker %03d. This page belongs to the split test.", i+1)
	}
	return pages
}

func TestSplitter_Plan(t *testing.T) {
	s := NewSplitter(DefaultPagesPerRange)

	tests := []struct {
		pages int
		want  []models.PageRange
	}{
		{0, nil},
		{-3, nil},
		{1, []models.PageRange{{Start: 0, End: 1}}},
		{10, []models.PageRange{{Start: 0, End: 10}}},
		{11, []models.PageRange{{Start: 0, End: 10}, {Start: 10, End: 11}}},
		{25, []models.PageRange{{Start: 0, End: 10}, {Start: 10, End: 20}, {Start: 20, End: 25}}},
		{30, []models.PageRange{{Start: 0, End: 10}, {Start: 10, End: 20}, {Start: 20, End: 30}}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d pages", tt.pages), func(t *testing.T) {
			got := s.Plan(tt.pages)
			assert.Equal(t, tt.want, got)

			// contiguous, bounded and covering
			next := 0
			for _, r := range got {
				assert.Equal(t, next, r.Start)
				assert.LessOrEqual(t, r.Len(), DefaultPagesPerRange)
				assert.Positive(t, r.Len())
				next = r.End
			}
			if tt.pages > 0 {
				assert.Equal(t, tt.pages, next)
			}
		})
	}
}

func TestSplitter_PageCount(t *testing.T) {
	s := NewSplitter(0)

	count, err := s.PageCount(testutil.BuildPDF(numberedPages(3)...))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = s.PageCount([]byte("definitely not a pdf"))
	assert.ErrorIs(t, err, models.ErrInvalidDocument)
}

func TestSplitter_ExtractRange(t *testing.T) {
	s := NewSplitter(DefaultPagesPerRange)
	doc := testutil.BuildPDF(numberedPages(25)...)
	extractor := NewTextExtractor(logger.NewTestLogger(), 2)

	for _, r := range s.Plan(25) {
		t.Run(r.String(), func(t *testing.T) {
			part, err := s.ExtractRange(doc, r)
			require.NoError(t, err)

			count, err := s.PageCount(part)
			require.NoError(t, err)
			assert.Equal(t, r.Len(), count)

			text, err := extractor.Extract(context.Background(), part)
			require.NoError(t, err)
			assert.Contains(t, text, fmt.Sprintf("Page marker %03d.", r.Start+1))
			assert.Contains(t, text, fmt.Sprintf("Page marker %03d.", r.End))
			assert.NotContains(t, text, fmt.Sprintf("Page marker %03d.", r.End+1))
		})
	}
}

func TestSplitter_ExtractRange_Invalid(t *testing.T) {
	s := NewSplitter(DefaultPagesPerRange)
	doc := testutil.BuildPDF(numberedPages(5)...)

	for _, r := range []models.PageRange{
		{Start: -1, End: 2},
		{Start: 3, End: 3},
		{Start: 4, End: 2},
		{Start: 0, End: 6},
	} {
		_, err := s.ExtractRange(doc, r)
		assert.ErrorIs(t, err, ErrInvalidRange, "range %s", r)
	}
}

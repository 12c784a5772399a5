package text

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/feichai0017/document-ingestor/internal/models"
)

const (
	DefaultMaxChars       = 2000
	DefaultOverlap        = 200
	DefaultBoundaryWindow = 300
)

// Options controls how text is split. Sizes are counted in characters (runes).
type Options struct {
	MaxChars int
	Overlap  int
	// BoundaryWindow is how far back from a window end a sentence break is searched.
	BoundaryWindow int
}

// DefaultOptions returns 2000-character windows overlapping by 200.
func DefaultOptions() Options {
	return Options{
		MaxChars:       DefaultMaxChars,
		Overlap:        DefaultOverlap,
		BoundaryWindow: DefaultBoundaryWindow,
	}
}

// Validate rejects option sets that could not make progress.
func (o Options) Validate() error {
	if o.MaxChars <= 0 {
		return fmt.Errorf("%w: max chars must be positive, got %d", models.ErrInvalidOptions, o.MaxChars)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", models.ErrInvalidOptions, o.Overlap)
	}
	if o.Overlap >= o.MaxChars {
		return fmt.Errorf("%w: overlap %d must be smaller than max chars %d", models.ErrInvalidOptions, o.Overlap, o.MaxChars)
	}
	if o.BoundaryWindow < 0 {
		return fmt.Errorf("%w: boundary window must not be negative, got %d", models.ErrInvalidOptions, o.BoundaryWindow)
	}
	return nil
}

// Normalize collapses every whitespace run to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split normalizes text and cuts it into overlapping chunks of at most
// opts.MaxChars characters, preferring to end a chunk on a sentence break.
// Empty input yields no chunks.
func Split(text string, opts Options) ([]string, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	normalized := Normalize(text)
	if normalized == "" {
		return nil, nil
	}

	runes := []rune(normalized)
	n := len(runes)
	if n <= opts.MaxChars {
		return []string{normalized}, nil
	}

	// a cut must land past start+overlap or the window would not advance
	lookback := min(opts.BoundaryWindow, opts.MaxChars-opts.Overlap)

	chunks := make([]string, 0, n/(opts.MaxChars-opts.Overlap)+1)
	start := 0
	for start < n {
		end := start + opts.MaxChars
		if end >= n {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}

		if cut := sentenceBreak(runes, end, lookback); cut > 0 {
			end = cut
		}

		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
		start = end - opts.Overlap
	}

	return chunks, nil
}

// sentenceBreak returns the index just after the last period followed by
// whitespace in runes[end-lookback+1:end], or -1.
func sentenceBreak(runes []rune, end, lookback int) int {
	for i := end - 1; i > end-lookback && i >= 0; i-- {
		if runes[i] == '.' && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	return -1
}

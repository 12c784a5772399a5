package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

// MaxBatchSize is the largest number of texts sent in one provider call.
const MaxBatchSize = 100

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrCountMismatch     = errors.New("embedding count mismatch")
)

// Embedder maps texts to fixed-length vectors. The result has the same
// length and order as the input; any failure fails the whole call.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// batchFunc embeds one provider-sized batch.
type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// batcher splits inputs into provider batches and validates every result.
type batcher struct {
	embed     batchFunc
	batchSize int
	dimension int
	logger    logger.Logger
}

func newBatcher(fn batchFunc, batchSize int, log logger.Logger) batcher {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return batcher{
		embed:     fn,
		batchSize: batchSize,
		dimension: models.EmbeddingDimension,
		logger:    log,
	}
}

func (b batcher) run(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))

		got, err := b.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch [%d,%d): %w", models.ErrEmbeddingFailed, start, end, err)
		}
		if len(got) != end-start {
			return nil, fmt.Errorf("%w: %w: batch [%d,%d) returned %d vectors",
				models.ErrEmbeddingFailed, ErrCountMismatch, start, end, len(got))
		}
		for i, v := range got {
			if len(v) != b.dimension {
				return nil, fmt.Errorf("%w: %w: text %d has %d components, expected %d",
					models.ErrEmbeddingFailed, ErrDimensionMismatch, start+i, len(v), b.dimension)
			}
		}
		vectors = append(vectors, got...)

		b.logger.Debug("Embedded batch",
			logger.Int("from", start),
			logger.Int("to", end),
		)
	}

	return vectors, nil
}

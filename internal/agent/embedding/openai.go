package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

// DefaultOpenAIModel supports shortened outputs, so it can be asked for
// 768 components.
const DefaultOpenAIModel = openai.SmallEmbedding3

type OpenAIEmbedder struct {
	batcher
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder; baseURL overrides the API endpoint when set.
func NewOpenAIEmbedder(apiKey, baseURL, model string, batchSize int, log logger.Logger) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	e := &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  DefaultOpenAIModel,
	}
	if model != "" {
		e.model = openai.EmbeddingModel(model)
	}
	e.batcher = newBatcher(e.embedBatch, batchSize, log)
	return e
}

func (e *OpenAIEmbedder) Name() string {
	return "openai/" + string(e.model)
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.run(ctx, texts)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: models.EmbeddingDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	// the API does not promise response order
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if d.Index != i {
			return nil, fmt.Errorf("unexpected embedding index %d at position %d", d.Index, i)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

package embedding

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const DefaultGeminiModel = "text-embedding-004"

// GeminiEmbedder calls the Gemini batch embedding endpoint.
type GeminiEmbedder struct {
	batcher
	client *genai.Client
	model  string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, batchSize int, log logger.Logger, opts ...option.ClientOption) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	e := &GeminiEmbedder{
		client: client,
		model:  model,
	}
	e.batcher = newBatcher(e.embedBatch, batchSize, log)
	return e, nil
}

func (e *GeminiEmbedder) Name() string {
	return "gemini/" + e.model
}

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.run(ctx, texts)
}

func (e *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb != nil {
			vectors[i] = emb.Values
		}
	}
	return vectors, nil
}

func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}

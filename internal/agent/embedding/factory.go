package embedding

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

// NewFromConfig returns the embedder selected by EMBEDDING_PROVIDER.
func NewFromConfig(ctx context.Context, config *cfg.Config, log logger.Logger) (Embedder, error) {
	switch config.Embedding.Provider {
	case cfg.ProviderGemini:
		return NewGeminiEmbedder(ctx, config.GeminiAPIKey, config.Embedding.Model, config.Embedding.BatchSize, log)
	case cfg.ProviderOpenAI:
		return NewOpenAIEmbedder(config.OpenAIAPIKey, config.OpenAIBaseURL, config.Embedding.Model, config.Embedding.BatchSize, log), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}
}

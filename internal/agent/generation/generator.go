package generation

import (
	"context"
	"errors"
	"fmt"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

var ErrEmptyResponse = errors.New("model returned no text")

// Generator produces an answer for a fully composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewFromConfig returns the generator selected by GENERATION_PROVIDER.
func NewFromConfig(ctx context.Context, config *cfg.Config, log logger.Logger) (Generator, error) {
	switch config.Generation.Provider {
	case cfg.ProviderGemini:
		return NewGeminiGenerator(ctx, config.GeminiAPIKey, config.Generation.Model, log)
	case cfg.ProviderOpenAI:
		return NewOpenAIGenerator(config.OpenAIAPIKey, config.OpenAIBaseURL, config.Generation.Model, log), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", config.Generation.Provider)
	}
}

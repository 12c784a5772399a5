package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const DefaultGeminiModel = "gemini-2.0-flash-001"

type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger logger.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, log logger.Logger, opts ...option.ClientOption) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model, logger: log}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		// first candidate only
		break
	}

	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Generated answer",
		logger.String("model", g.model),
		logger.Int("promptChars", len(prompt)),
	)
	return b.String(), nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

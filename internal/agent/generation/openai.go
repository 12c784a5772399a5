package generation

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const DefaultOpenAIModel = openai.GPT4oMini

type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger logger.Logger
}

func NewOpenAIGenerator(apiKey, baseURL, model string, log logger.Logger) *OpenAIGenerator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: log,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Generated answer",
		logger.String("model", g.model),
		logger.Int("totalTokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

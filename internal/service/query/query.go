package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/feichai0017/document-ingestor/internal/agent/embedding"
	"github.com/feichai0017/document-ingestor/internal/agent/generation"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/text"
	"github.com/feichai0017/document-ingestor/internal/vectorstore"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const (
	DefaultTopK      = 8
	ContextCharLimit = 15000
	NoDocumentsFound = "No relevant documents found"
)

var ErrEmptyQuery = errors.New("query is required")

type Searcher interface {
	HasTenant(tenant string) bool
	Search(ctx context.Context, tenant string, query []float32, k int) ([]vectorstore.Match, error)
}

const promptTemplate = `You are an assistant answering questions about the documents stored in this knowledge base.
Use ONLY the information from the following document excerpts to answer the user's question clearly.

--- DOCUMENT CONTEXT START ---
%s
--- DOCUMENT CONTEXT END ---

Question: %s

Answer step-by-step, referencing the relevant sections when possible.`

// Service answers questions from the stored chunks of a tenant.
type Service struct {
	embedder  embedding.Embedder
	searcher  Searcher
	generator generation.Generator
	topK      int
	logger    logger.Logger
}

func NewService(embedder embedding.Embedder, searcher Searcher, generator generation.Generator, log logger.Logger) *Service {
	return &Service{
		embedder:  embedder,
		searcher:  searcher,
		generator: generator,
		topK:      DefaultTopK,
		logger:    log,
	}
}

// Answer retrieves the nearest chunks for question and asks the generator
// to answer from them.
func (s *Service) Answer(ctx context.Context, question, tenant string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuery
	}
	if tenant == "" {
		tenant = models.DefaultTenant
	}
	if !s.searcher.HasTenant(tenant) {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownTenant, tenant)
	}

	docContext, err := s.retrieve(ctx, question, tenant)
	if err != nil {
		return "", err
	}

	answer, err := s.generator.Generate(ctx, BuildPrompt(docContext, question))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

func (s *Service) retrieve(ctx context.Context, question, tenant string) (string, error) {
	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", err
	}

	matches, err := s.searcher.Search(ctx, tenant, vectors[0], s.topK)
	if err != nil {
		return "", err
	}

	s.logger.Debug("Retrieved context",
		logger.String("tenant", tenant),
		logger.Int("matches", len(matches)),
	)

	if len(matches) == 0 {
		return NoDocumentsFound, nil
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return strings.Join(texts, " "), nil
}

// BuildPrompt embeds at most ContextCharLimit characters of docContext.
func BuildPrompt(docContext, question string) string {
	return fmt.Sprintf(promptTemplate, text.Truncate(docContext, ContextCharLimit), question)
}

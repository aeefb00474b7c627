// Package hyde implements hypothetical document expansion: a short plausible
// answer is generated for a query and embedded in place of (or alongside)
// the raw query to improve retrieval recall.
package hyde

import (
	"context"
	"strings"

	"github.com/christoph-codes/RecallAI-sub000/plugin/ai"
	"github.com/christoph-codes/RecallAI-sub000/plugin/ai/cache"
	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
)

const hydeSystemPrompt = `You write entries for a personal knowledge base. ` +
	`Given a question, write a short, plausible entry that directly answers it, ` +
	`as if it were a note the user had saved. State facts plainly. ` +
	`Do not mention that the entry is hypothetical or that you are uncertain.`

const defaultMaxTokens = 100

// Completer is the generation call used to produce hypothetical documents.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (string, error)
}

// Embedder turns the generated document into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces hypothetical documents for queries, consulting a small
// bounded cache keyed by the normalized query.
type Generator struct {
	llm       Completer
	embedder  Embedder
	cache     *cache.Cache[string]
	enabled   bool
	maxTokens int
}

// NewGenerator creates a HyDE generator.
func NewGenerator(llm Completer, embedder Embedder, c *cache.Cache[string], enabled bool, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Generator{
		llm:       llm,
		embedder:  embedder,
		cache:     c,
		enabled:   enabled,
		maxTokens: maxTokens,
	}
}

// Enabled reports whether HyDE generation is turned on.
func (g *Generator) Enabled() bool {
	return g.enabled
}

// Generate returns a hypothetical document answering the query. When HyDE is
// disabled by configuration it fails immediately with a Disabled error,
// which callers must treat as "skip HyDE". Empty model output is not an
// error: the trimmed original query is returned instead, so downstream
// embedding never operates on empty input.
func (g *Generator) Generate(ctx context.Context, query string) (string, error) {
	if !g.enabled {
		return "", apierrors.Disabled("HyDE generation")
	}

	if doc, ok := g.cache.Get(query); ok {
		return doc, nil
	}

	messages := []ai.Message{
		ai.SystemPrompt(hydeSystemPrompt),
		ai.UserMessage(query),
	}

	output, err := g.llm.Complete(ctx, messages, ai.CompletionOptions{MaxTokens: g.maxTokens})
	if err != nil {
		return "", err
	}

	doc := strings.TrimSpace(output)
	if doc == "" {
		doc = strings.TrimSpace(query)
	}

	g.cache.Put(query, doc)
	return doc, nil
}

// GetEmbedding generates a hypothetical document for the query and returns
// its embedding vector.
func (g *Generator) GetEmbedding(ctx context.Context, query string) ([]float32, error) {
	doc, err := g.Generate(ctx, query)
	if err != nil {
		return nil, err
	}
	return g.embedder.Embed(ctx, doc)
}

// Package embedding provides the cache-through embedding service used by
// every component that needs a vector for a piece of text.
package embedding

import (
	"context"

	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
	"github.com/christoph-codes/RecallAI-sub000/plugin/ai/cache"
)

// Embedder is the external embedding call.
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
	EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Service generates embeddings through a process-wide cache. All callers go
// through it rather than hitting the provider directly.
type Service struct {
	provider Embedder
	cache    *cache.Cache[[]float32]
}

// NewService creates an embedding service backed by the given provider and cache.
func NewService(provider Embedder, c *cache.Cache[[]float32]) *Service {
	return &Service{
		provider: provider,
		cache:    c,
	}
}

// Embed returns the vector for a single text, consulting the cache first.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := s.cache.Get(text); ok {
		return vector, nil
	}

	vector, err := s.provider.Embedding(ctx, text)
	if err != nil {
		return nil, err
	}

	s.cache.Put(text, vector)
	return vector, nil
}

// EmbedBatch returns one vector per input text, order-preserving. Texts with
// a live cache entry are served from the cache; only the uncached remainder
// is sent to the provider, and the results are merged back into the original
// order and backfilled into the cache.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apierrors.InvalidArgument("no texts provided for embedding")
	}

	vectors := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, text := range texts {
		if vector, ok := s.cache.Get(text); ok {
			vectors[i] = vector
			continue
		}
		uncached = append(uncached, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return vectors, nil
	}

	fresh, err := s.provider.EmbeddingBatch(ctx, uncached)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(uncached) {
		return nil, apierrors.ProviderUnavailable("embedding count mismatch", nil)
	}

	for j, vector := range fresh {
		i := uncachedIdx[j]
		vectors[i] = vector
		s.cache.Put(texts[i], vector)
	}

	return vectors, nil
}

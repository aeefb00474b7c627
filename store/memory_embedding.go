package store

import (
	"context"
	"time"
)

// MemoryEmbedding represents the vector embedding of a memory. Each memory
// owns at most one embedding per model; embeddings are never shared across
// memories, and searches never mix vectors from different models.
type MemoryEmbedding struct {
	ID        int32
	MemoryID  int32
	Embedding []float32
	Model     string
	CreatedTs int64
	UpdatedTs int64
}

// MemoryWithScore represents a vector search result with similarity score.
type MemoryWithScore struct {
	Memory *Memory
	// Score is the cosine similarity (0-1, higher is more similar).
	Score float64
}

// VectorSearchOptions represents the options for vector search.
type VectorSearchOptions struct {
	UserID int32     // Required, only search memories of this user
	Vector []float32 // Query vector
	Model  string    // Embedding model the query vector was produced by
	Limit  int       // Number of results to return, default 10
}

// FindMemoriesWithoutEmbedding finds memories lacking an embedding for a model.
type FindMemoriesWithoutEmbedding struct {
	Model string
	Limit int
}

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (s *Store) UpsertMemoryEmbedding(ctx context.Context, embedding *MemoryEmbedding) (*MemoryEmbedding, error) {
	now := time.Now().Unix()
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = now
	}
	if embedding.UpdatedTs == 0 {
		embedding.UpdatedTs = now
	}
	return s.driver.UpsertMemoryEmbedding(ctx, embedding)
}

// DeleteMemoryEmbedding deletes a memory embedding.
func (s *Store) DeleteMemoryEmbedding(ctx context.Context, memoryID int32) error {
	return s.driver.DeleteMemoryEmbedding(ctx, memoryID)
}

// VectorSearch performs cosine similarity search over a user's memories.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error) {
	return s.driver.VectorSearch(ctx, opts)
}

// FindMemoriesMissingEmbedding finds memories without an embedding for the model.
func (s *Store) FindMemoriesMissingEmbedding(ctx context.Context, find *FindMemoriesWithoutEmbedding) ([]*Memory, error) {
	return s.driver.FindMemoriesWithoutEmbedding(ctx, find)
}

package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

// SQLite does not support vector storage or similarity search.
// These methods exist to satisfy the store.Driver interface; semantic
// search requires PostgreSQL with the pgvector extension.

// UpsertMemoryEmbedding is NOT supported for SQLite.
func (d *DB) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	return nil, errors.New("memory embedding (vector storage) requires PostgreSQL with pgvector extension")
}

// DeleteMemoryEmbedding is NOT supported for SQLite.
func (d *DB) DeleteMemoryEmbedding(ctx context.Context, memoryID int32) error {
	// Return nil (success) so memory deletion still works.
	return nil
}

// VectorSearch is NOT supported for SQLite.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	return nil, errors.New("vector search requires PostgreSQL with pgvector extension")
}

// FindMemoriesWithoutEmbedding is NOT supported for SQLite.
func (d *DB) FindMemoriesWithoutEmbedding(ctx context.Context, find *store.FindMemoriesWithoutEmbedding) ([]*store.Memory, error) {
	return nil, errors.New("memory embedding features require PostgreSQL with pgvector extension")
}

package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Memory model related methods.
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error)
	DeleteMemory(ctx context.Context, delete *DeleteMemory) error

	// MemoryEmbedding model related methods.
	UpsertMemoryEmbedding(ctx context.Context, embedding *MemoryEmbedding) (*MemoryEmbedding, error)
	DeleteMemoryEmbedding(ctx context.Context, memoryID int32) error

	// VectorSearch performs cosine similarity search using the store's
	// distance operator, scoped to one user and one embedding model.
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error)

	// FindMemoriesWithoutEmbedding finds memories that don't have
	// embeddings for the specified model.
	FindMemoriesWithoutEmbedding(ctx context.Context, find *FindMemoriesWithoutEmbedding) ([]*Memory, error)
}

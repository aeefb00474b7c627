package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/internal/profile"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

// PostgreSQL is the primary database. It is the only driver with full
// vector search support via the pgvector extension; SQLite covers local
// development without semantic search.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema if needed. The embedding column dimension
// follows the configured embedding model.
func (d *DB) Migrate(ctx context.Context) error {
	dimensions := d.profile.AIEmbeddingDimensions
	if dimensions <= 0 {
		dimensions = 1536
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memory (
			id SERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			creator_id INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text/plain',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_creator_id ON memory (creator_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_embedding (
			id SERIAL PRIMARY KEY,
			memory_id INTEGER NOT NULL REFERENCES memory (id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE (memory_id, model)
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_memory_embedding_memory_id ON memory_embedding (memory_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (d *DB) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	stmt := `
		INSERT INTO memory_embedding (memory_id, embedding, model, created_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (memory_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	vector := pgvector.NewVector(embedding.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		embedding.MemoryID,
		vector,
		embedding.Model,
		embedding.CreatedTs,
		embedding.UpdatedTs,
	).Scan(&embedding.ID, &embedding.CreatedTs, &embedding.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert memory embedding")
	}

	return embedding, nil
}

// DeleteMemoryEmbedding deletes all embeddings for a memory.
func (d *DB) DeleteMemoryEmbedding(ctx context.Context, memoryID int32) error {
	stmt := `DELETE FROM memory_embedding WHERE memory_id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, memoryID)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("memory embedding with memory_id %d not found", memoryID)
	}
	return nil
}

// VectorSearch performs cosine similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity),
// so ordering by distance ASC yields the most similar rows first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT
			m.id, m.uid, m.creator_id, m.title, m.content, m.content_type, m.metadata,
			m.created_ts, m.updated_ts,
			1 - (e.embedding <=> ` + placeholder(1) + `) AS score
		FROM memory m
		INNER JOIN memory_embedding e ON m.id = e.memory_id
		WHERE m.creator_id = ` + placeholder(2) + `
			AND e.model = ` + placeholder(3) + `
		ORDER BY e.embedding <=> ` + placeholder(4) + `
		LIMIT ` + placeholder(5)

	vector := pgvector.NewVector(opts.Vector)
	rows, err := d.db.QueryContext(ctx, query,
		vector,
		opts.UserID,
		opts.Model,
		vector,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.MemoryWithScore{}
	for rows.Next() {
		var result store.MemoryWithScore
		memory, err := scanMemoryWithScore(rows.Scan, &result.Score)
		if err != nil {
			return nil, err
		}
		result.Memory = memory
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// FindMemoriesWithoutEmbedding finds memories that don't have embeddings
// for the specified model.
func (d *DB) FindMemoriesWithoutEmbedding(ctx context.Context, find *store.FindMemoriesWithoutEmbedding) ([]*store.Memory, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			m.id, m.uid, m.creator_id, m.title, m.content, m.content_type, m.metadata,
			m.created_ts, m.updated_ts
		FROM memory m
		LEFT JOIN memory_embedding e ON m.id = e.memory_id AND e.model = ` + placeholder(1) + `
		WHERE e.id IS NULL
			AND LENGTH(m.content) > 0
		ORDER BY m.created_ts DESC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find memories without embedding")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		memory, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func scanMemoryWithScore(scan func(dest ...any) error, score *float64) (*store.Memory, error) {
	var memory store.Memory
	var metadataBytes []byte
	if err := scan(
		&memory.ID,
		&memory.UID,
		&memory.CreatorID,
		&memory.Title,
		&memory.Content,
		&memory.ContentType,
		&metadataBytes,
		&memory.CreatedTs,
		&memory.UpdatedTs,
		score,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan vector search result")
	}
	if len(metadataBytes) > 0 {
		if err := unmarshalMetadata(metadataBytes, &memory); err != nil {
			return nil, err
		}
	}
	return &memory, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	metadataBytes, err := marshalMetadata(create.Metadata)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO memory (uid, creator_id, title, content, content_type, metadata, created_ts, updated_ts)
		VALUES (` + placeholders(8) + `)
		RETURNING id
	`
	err = d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.CreatorID,
		create.Title,
		create.Content,
		create.ContentType,
		metadataBytes,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, store.ErrUIDConflict
		}
		return nil, errors.Wrap(err, "failed to create memory")
	}

	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = "+placeholder(len(args)+1)), append(args, *find.CreatorID)
	}

	query := `
		SELECT id, uid, creator_id, title, content, content_type, metadata, created_ts, updated_ts
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
	`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
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

func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Metadata != nil {
		metadataBytes, err := marshalMetadata(update.Metadata)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, metadataBytes)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, update.UpdatedTs)
	args = append(args, update.ID)

	stmt := `
		UPDATE memory
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, creator_id, title, content, content_type, metadata, created_ts, updated_ts
	`
	memory, err := scanMemory(d.db.QueryRowContext(ctx, stmt, args...).Scan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update memory")
	}
	return memory, nil
}

func (d *DB) DeleteMemory(ctx context.Context, delete *store.DeleteMemory) error {
	stmt := `DELETE FROM memory WHERE id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("memory %d not found", delete.ID)
	}
	return nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	return bytes, nil
}

func scanMemory(scan func(dest ...any) error) (*store.Memory, error) {
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
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory")
	}
	if len(metadataBytes) > 0 {
		if err := unmarshalMetadata(metadataBytes, &memory); err != nil {
			return nil, err
		}
	}
	return &memory, nil
}

func unmarshalMetadata(bytes []byte, memory *store.Memory) error {
	if err := json.Unmarshal(bytes, &memory.Metadata); err != nil {
		return errors.Wrap(err, "failed to unmarshal metadata")
	}
	return nil
}

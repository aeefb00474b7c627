package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/store"
)

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
		string(metadataBytes),
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, store.ErrUIDConflict
		}
		return nil, errors.Wrap(err, "failed to create memory")
	}

	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *find.CreatorID)
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
		var memory store.Memory
		var metadataBytes []byte
		if err := rows.Scan(
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
			if err := json.Unmarshal(metadataBytes, &memory.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal metadata")
			}
		}
		list = append(list, &memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, *update.Content)
	}
	if update.Metadata != nil {
		metadataBytes, err := marshalMetadata(update.Metadata)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "metadata = ?"), append(args, string(metadataBytes))
	}
	set, args = append(set, "updated_ts = ?"), append(args, update.UpdatedTs)
	args = append(args, update.ID)

	stmt := `
		UPDATE memory
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ?
	`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to update memory")
	}

	id := update.ID
	memories, err := d.ListMemories(ctx, &store.FindMemory{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, fmt.Errorf("memory %d not found", update.ID)
	}
	return memories[0], nil
}

func (d *DB) DeleteMemory(ctx context.Context, delete *store.DeleteMemory) error {
	stmt := `DELETE FROM memory WHERE id = ?`
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

package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// ErrUIDConflict is returned by drivers when a memory UID collides with an
// existing row. The store facade regenerates the UID and retries.
var ErrUIDConflict = errors.New("memory uid conflict")

// uidCreateAttempts bounds UID regeneration on primary-key collision.
const uidCreateAttempts = 3

// Memory represents a stored piece of user knowledge.
type Memory struct {
	ID        int32
	UID       string
	CreatorID int32
	Title     string
	Content   string
	// ContentType tags the content, e.g. "text/plain".
	ContentType string
	Metadata    map[string]any
	CreatedTs   int64
	UpdatedTs   int64
}

// FindMemory is the find condition for memories.
type FindMemory struct {
	ID        *int32
	UID       *string
	CreatorID *int32
	Limit     *int
	Offset    *int
}

// UpdateMemory is the update payload for a memory. Nil fields are unchanged.
type UpdateMemory struct {
	ID        int32
	Title     *string
	Content   *string
	Metadata  map[string]any
	UpdatedTs int64
}

// DeleteMemory is the delete condition for a memory.
type DeleteMemory struct {
	ID int32
}

// CreateMemory persists a memory. When the UID is empty a new one is
// generated; on a UID collision the create is retried with a fresh UID up
// to three attempts before failing.
func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	explicitUID := create.UID != ""

	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}
	if create.ContentType == "" {
		create.ContentType = "text/plain"
	}

	var lastErr error
	for attempt := 0; attempt < uidCreateAttempts; attempt++ {
		if !explicitUID {
			create.UID = shortuuid.New()
		}

		memory, err := s.driver.CreateMemory(ctx, create)
		if err == nil {
			return memory, nil
		}
		lastErr = err

		if explicitUID || !errors.Is(err, ErrUIDConflict) {
			return nil, err
		}
	}

	return nil, lastErr
}

// GetMemory gets a single memory, or nil when not found.
func (s *Store) GetMemory(ctx context.Context, find *FindMemory) (*Memory, error) {
	list, err := s.driver.ListMemories(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListMemories lists memories.
func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

// UpdateMemory updates a memory.
func (s *Store) UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error) {
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().Unix()
	}
	return s.driver.UpdateMemory(ctx, update)
}

// DeleteMemory deletes a memory and, through the schema, its embedding.
func (s *Store) DeleteMemory(ctx context.Context, delete *DeleteMemory) error {
	return s.driver.DeleteMemory(ctx, delete)
}

package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/christoph-codes/RecallAI-sub000/server/auth"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

type createMemoryRequest struct {
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content"`
	ContentType string         `json:"contentType,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type updateMemoryRequest struct {
	Title    *string        `json:"title,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type memoryResponse struct {
	ID          int32          `json:"id"`
	UID         string         `json:"uid"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	ContentType string         `json:"contentType"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedTs   int64          `json:"createdTs"`
	UpdatedTs   int64          `json:"updatedTs"`
}

func toMemoryResponse(m *store.Memory) *memoryResponse {
	return &memoryResponse{
		ID:          m.ID,
		UID:         m.UID,
		Title:       m.Title,
		Content:     m.Content,
		ContentType: m.ContentType,
		Metadata:    m.Metadata,
		CreatedTs:   m.CreatedTs,
		UpdatedTs:   m.UpdatedTs,
	}
}

// CreateMemory handles POST /api/v1/memories.
func (s *APIV1Service) CreateMemory(c echo.Context) error {
	ctx := c.Request().Context()

	var req createMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	memory, err := s.Store.CreateMemory(ctx, &store.Memory{
		CreatorID:   auth.UserID(c),
		Title:       req.Title,
		Content:     req.Content,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create memory")
	}

	s.embedMemory(c, memory)
	return c.JSON(http.StatusOK, toMemoryResponse(memory))
}

// ListMemories handles GET /api/v1/memories.
func (s *APIV1Service) ListMemories(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserID(c)

	find := &store.FindMemory{CreatorID: &userID}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		find.Limit = &limit
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		find.Offset = &offset
	}

	memories, err := s.Store.ListMemories(ctx, find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list memories")
	}

	resp := make([]*memoryResponse, 0, len(memories))
	for _, m := range memories {
		resp = append(resp, toMemoryResponse(m))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetMemory handles GET /api/v1/memories/:id.
func (s *APIV1Service) GetMemory(c echo.Context) error {
	memory, err := s.findOwnedMemory(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toMemoryResponse(memory))
}

// UpdateMemory handles PATCH /api/v1/memories/:id.
func (s *APIV1Service) UpdateMemory(c echo.Context) error {
	ctx := c.Request().Context()

	memory, err := s.findOwnedMemory(c)
	if err != nil {
		return err
	}

	var req updateMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Content != nil && strings.TrimSpace(*req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content cannot be empty")
	}

	updated, err := s.Store.UpdateMemory(ctx, &store.UpdateMemory{
		ID:       memory.ID,
		Title:    req.Title,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update memory")
	}

	if req.Content != nil {
		s.embedMemory(c, updated)
	}
	return c.JSON(http.StatusOK, toMemoryResponse(updated))
}

// DeleteMemory handles DELETE /api/v1/memories/:id.
func (s *APIV1Service) DeleteMemory(c echo.Context) error {
	ctx := c.Request().Context()

	memory, err := s.findOwnedMemory(c)
	if err != nil {
		return err
	}

	if err := s.Store.DeleteMemoryEmbedding(ctx, memory.ID); err != nil {
		slog.Warn("failed to delete memory embedding", "memoryID", memory.ID, "error", err)
	}
	if err := s.Store.DeleteMemory(ctx, &store.DeleteMemory{ID: memory.ID}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete memory")
	}
	return c.NoContent(http.StatusNoContent)
}

// findOwnedMemory resolves :id and enforces owner scoping.
func (s *APIV1Service) findOwnedMemory(c echo.Context) (*store.Memory, error) {
	id64, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid memory id")
	}
	id := int32(id64)

	memory, err := s.Store.GetMemory(c.Request().Context(), &store.FindMemory{ID: &id})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load memory")
	}
	if memory == nil || memory.CreatorID != auth.UserID(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "memory not found")
	}
	return memory, nil
}

// embedMemory generates and stores the embedding for a memory.
// Best-effort: failures are logged and the backfill runner retries later.
func (s *APIV1Service) embedMemory(c echo.Context, memory *store.Memory) {
	if s.embedder == nil {
		return
	}
	ctx := c.Request().Context()

	vector, err := s.embedder.Embed(ctx, memory.Content)
	if err != nil {
		slog.Warn("memory embedding failed", "memoryID", memory.ID, "error", err)
		return
	}
	if _, err := s.Store.UpsertMemoryEmbedding(ctx, &store.MemoryEmbedding{
		MemoryID:  memory.ID,
		Embedding: vector,
		Model:     s.Profile.AIEmbeddingModel,
	}); err != nil {
		slog.Warn("failed to store memory embedding", "memoryID", memory.ID, "error", err)
	}
}

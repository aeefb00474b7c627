package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/christoph-codes/RecallAI-sub000/internal/profile"
	"github.com/christoph-codes/RecallAI-sub000/server/auth"
	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
	"github.com/christoph-codes/RecallAI-sub000/server/internal/observability"
	"github.com/christoph-codes/RecallAI-sub000/server/retrieval"
	"github.com/christoph-codes/RecallAI-sub000/server/service/completion"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Embedder produces embeddings for search queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HydeGenerator expands a query into a hypothetical document and its vector.
type HydeGenerator interface {
	Generate(ctx context.Context, query string) (string, error)
	Enabled() bool
}

// SearchEngine is the retrieval surface the handlers call.
type SearchEngine interface {
	SearchSimilar(ctx context.Context, userID int32, vector []float32, limit int, threshold float64) ([]*store.MemoryWithScore, error)
	HybridSearch(ctx context.Context, userID int32, queryVector, hydeVector []float32, limit int, threshold float64) ([]*retrieval.Result, error)
}

// CompletionPipeline runs one completion request into a frame stream.
type CompletionPipeline interface {
	Run(ctx context.Context, req *completion.Request) <-chan completion.Frame
}

// AIService exposes semantic search and streaming completion.
type AIService struct {
	embedder Embedder
	hyde     HydeGenerator
	engine   SearchEngine
	pipeline CompletionPipeline
	profile  *profile.Profile
}

func NewAIService(embedder Embedder, hyde HydeGenerator, engine SearchEngine, pipeline CompletionPipeline, profile *profile.Profile) *AIService {
	return &AIService{
		embedder: embedder,
		hyde:     hyde,
		engine:   engine,
		pipeline: pipeline,
		profile:  profile,
	}
}

type searchRequest struct {
	Query     string   `json:"query"`
	Limit     *int     `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	UseHyde   bool     `json:"useHyde,omitempty"`
}

type searchResult struct {
	ID              int32          `json:"id"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	ContentType     string         `json:"contentType"`
	SimilarityScore float64        `json:"similarityScore"`
	CombinedScore   float64        `json:"combinedScore"`
	SearchMethod    string         `json:"searchMethod"`
	CreatedAt       int64          `json:"createdAt"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type searchResponse struct {
	Results              []searchResult `json:"results"`
	Query                string         `json:"query"`
	ResultCount          int            `json:"resultCount"`
	ExecutionTimeMs      int64          `json:"executionTimeMs"`
	HydeUsed             bool           `json:"hydeUsed"`
	HypotheticalDocument string         `json:"hypotheticalDocument,omitempty"`
}

// Search handles POST /api/v1/ai/search.
func (s *AIService) Search(c echo.Context) error {
	ctx := c.Request().Context()
	rc := observability.NewRequestContext(nil, auth.UserID(c))
	start := time.Now()

	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	limit := defaultSearchLimit
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > maxSearchLimit {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit))
		}
		limit = *req.Limit
	}
	threshold := s.profile.AIMemoryThreshold
	if req.Threshold != nil {
		if *req.Threshold < 0 || *req.Threshold > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "threshold must be between 0.0 and 1.0")
		}
		threshold = *req.Threshold
	}

	userID := auth.UserID(c)
	useHyde := req.UseHyde && s.hyde != nil && s.hyde.Enabled()

	resp := &searchResponse{Query: query, Results: []searchResult{}}

	if useHyde {
		// The query embedding and the HyDE document are independent;
		// fetch them concurrently, then embed the document.
		var queryVector, hydeVector []float32
		var hypothetical string

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			vector, err := s.embedder.Embed(gctx, query)
			if err != nil {
				return err
			}
			queryVector = vector
			return nil
		})
		g.Go(func() error {
			doc, err := s.hyde.Generate(gctx, query)
			if err != nil {
				return err
			}
			vector, err := s.embedder.Embed(gctx, doc)
			if err != nil {
				return err
			}
			hypothetical = doc
			hydeVector = vector
			return nil
		})
		if err := g.Wait(); err != nil {
			rc.Error("search pathway preparation failed", err)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "search is temporarily unavailable")
		}

		results, err := s.engine.HybridSearch(ctx, userID, queryVector, hydeVector, limit, threshold)
		if err != nil {
			rc.Error("hybrid search failed", err)
			return searchErrorStatus(err)
		}
		resp.HydeUsed = true
		resp.HypotheticalDocument = hypothetical
		for _, r := range results {
			resp.Results = append(resp.Results, searchResult{
				ID:              r.Memory.ID,
				Title:           r.Memory.Title,
				Content:         r.Memory.Content,
				ContentType:     r.Memory.ContentType,
				SimilarityScore: r.QueryScore,
				CombinedScore:   r.CombinedScore,
				SearchMethod:    r.Method,
				CreatedAt:       r.Memory.CreatedTs,
				Metadata:        r.Memory.Metadata,
			})
		}
	} else {
		vector, err := s.embedder.Embed(ctx, query)
		if err != nil {
			rc.Error("query embedding failed", err)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "search is temporarily unavailable")
		}
		results, err := s.engine.SearchSimilar(ctx, userID, vector, limit, threshold)
		if err != nil {
			rc.Error("vector search failed", err)
			return searchErrorStatus(err)
		}
		for _, r := range results {
			resp.Results = append(resp.Results, searchResult{
				ID:              r.Memory.ID,
				Title:           r.Memory.Title,
				Content:         r.Memory.Content,
				ContentType:     r.Memory.ContentType,
				SimilarityScore: r.Score,
				CombinedScore:   r.Score,
				SearchMethod:    retrieval.MethodQuery,
				CreatedAt:       r.Memory.CreatedTs,
				Metadata:        r.Memory.Metadata,
			})
		}
	}

	resp.ResultCount = len(resp.Results)
	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	rc.Info("search completed",
		slog.Int("results", resp.ResultCount),
		slog.Bool("hyde", resp.HydeUsed),
		slog.Int64(observability.LogFieldDuration, resp.ExecutionTimeMs))
	return c.JSON(http.StatusOK, resp)
}

func searchErrorStatus(err error) error {
	if apierrors.IsCode(err, apierrors.ErrCodeInvalidArgument) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, "search is temporarily unavailable")
}

type completionRequest struct {
	Message string             `json:"message"`
	Config  *completionOptions `json:"configuration,omitempty"`
}

type completionOptions struct {
	EnableMemorySearch *bool    `json:"enableMemorySearch,omitempty"`
	MaxMemoryResults   *int     `json:"maxMemoryResults,omitempty"`
	MemoryThreshold    *float64 `json:"memoryThreshold,omitempty"`
	Model              string   `json:"model,omitempty"`
	Temperature        *float32 `json:"temperature,omitempty"`
	MaxTokens          *int     `json:"maxTokens,omitempty"`
}

// Complete handles POST /api/v1/ai/completions as an SSE stream of
// event: data|done|error frames.
func (s *AIService) Complete(c echo.Context) error {
	ctx := c.Request().Context()
	rc := observability.NewRequestContext(nil, auth.UserID(c))

	var req completionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	opts, err := resolveCompletionOptions(req.Config)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	frames := s.pipeline.Run(ctx, &completion.Request{
		UserID:  auth.UserID(c),
		Message: req.Message,
		Options: opts,
	})

	for frame := range frames {
		if err := writeSSEFrame(w, frame); err != nil {
			rc.Warn("client disconnected mid-stream", slog.String("error", err.Error()))
			return nil
		}
		w.Flush()
	}
	return nil
}

// resolveCompletionOptions validates caller overrides against the API
// bounds before they reach the pipeline.
func resolveCompletionOptions(cfg *completionOptions) (*completion.RequestOptions, error) {
	if cfg == nil {
		return nil, nil
	}
	if cfg.MaxMemoryResults != nil && (*cfg.MaxMemoryResults < 1 || *cfg.MaxMemoryResults > 20) {
		return nil, fmt.Errorf("maxMemoryResults must be between 1 and 20")
	}
	if cfg.MemoryThreshold != nil && (*cfg.MemoryThreshold < 0 || *cfg.MemoryThreshold > 1) {
		return nil, fmt.Errorf("memoryThreshold must be between 0.0 and 1.0")
	}
	return &completion.RequestOptions{
		EnableMemorySearch: cfg.EnableMemorySearch,
		MaxMemoryResults:   cfg.MaxMemoryResults,
		MemoryThreshold:    cfg.MemoryThreshold,
		Model:              cfg.Model,
		Temperature:        cfg.Temperature,
		MaxTokens:          cfg.MaxTokens,
	}, nil
}

func writeSSEFrame(w *echo.Response, frame completion.Frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, sseData(frame))
	return err
}

// sseData keeps multi-line deltas inside one SSE data field.
func sseData(frame completion.Frame) string {
	return strings.ReplaceAll(frame.Data, "\n", "\ndata: ")
}

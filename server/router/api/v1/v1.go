package v1

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/christoph-codes/RecallAI-sub000/internal/profile"
	"github.com/christoph-codes/RecallAI-sub000/plugin/ai"
	"github.com/christoph-codes/RecallAI-sub000/plugin/ai/cache"
	"github.com/christoph-codes/RecallAI-sub000/plugin/ai/embedding"
	"github.com/christoph-codes/RecallAI-sub000/plugin/ai/hyde"
	"github.com/christoph-codes/RecallAI-sub000/server/auth"
	"github.com/christoph-codes/RecallAI-sub000/server/middleware"
	"github.com/christoph-codes/RecallAI-sub000/server/retrieval"
	"github.com/christoph-codes/RecallAI-sub000/server/service/completion"
	"github.com/christoph-codes/RecallAI-sub000/server/service/memory"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

// APIV1Service wires the REST surface: memory CRUD plus the AI search and
// completion endpoints.
type APIV1Service struct {
	Profile       *profile.Profile
	Store         *store.Store
	Authenticator *auth.Authenticator
	AIService     *AIService

	embedder *embedding.Service
}

func NewAPIV1Service(profile *profile.Profile, st *store.Store) *APIV1Service {
	service := &APIV1Service{
		Profile:       profile,
		Store:         st,
		Authenticator: auth.New(profile.Secret),
	}

	if !profile.IsAIEnabled() {
		return service
	}
	aiConfig := ai.NewConfigFromProfile(profile)
	if err := aiConfig.Validate(); err != nil {
		slog.Warn("AI features disabled, invalid config", "error", err)
		return service
	}

	provider, err := ai.NewProvider(aiConfig)
	if err != nil {
		slog.Warn("AI features disabled, provider init failed", "error", err)
		return service
	}
	embedCache := cache.New[[]float32](profile.AIEmbeddingCacheSize, profile.AIEmbeddingCacheTTL)
	service.embedder = embedding.NewService(provider, embedCache)

	hydeCache := cache.New[string](profile.AIHydeCacheSize, 0)
	hydeGenerator := hyde.NewGenerator(provider, service.embedder, hydeCache, profile.AIHydeEnabled, profile.AIHydeMaxTokens)

	engine := retrieval.NewEngine(st, aiConfig.Embedding.Model)

	extractor := memory.NewExtractor(provider, service.embedder, engine, st, aiConfig.Embedding.Model, slog.Default())

	pipeline := completion.NewPipeline(
		provider,
		hydeGenerator,
		service.embedder,
		engine,
		extractor,
		completion.Config{
			EnableEvaluation:   profile.AIMemoryEvaluationEnabled,
			EnableMemorySearch: profile.AIMemorySearchEnabled,
			MaxMemoryResults:   profile.AIMaxMemoryResults,
			MemoryThreshold:    profile.AIMemoryThreshold,
			Model:              aiConfig.LLM.Model,
			Temperature:        aiConfig.LLM.Temperature,
			MaxTokens:          aiConfig.LLM.MaxTokens,
		},
		slog.Default(),
	)

	service.AIService = NewAIService(service.embedder, hydeGenerator, engine, pipeline, profile)
	return service
}

// Embedder exposes the embedding service for background runners. It is nil
// when AI features are disabled.
func (s *APIV1Service) Embedder() *embedding.Service {
	return s.embedder
}

// RegisterRoutes mounts all v1 routes on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1", s.Authenticator.Middleware())

	api.POST("/memories", s.CreateMemory)
	api.GET("/memories", s.ListMemories)
	api.GET("/memories/:id", s.GetMemory)
	api.PATCH("/memories/:id", s.UpdateMemory)
	api.DELETE("/memories/:id", s.DeleteMemory)

	if s.AIService != nil {
		limiter := middleware.NewRateLimiter(10, 20)
		aiGroup := api.Group("/ai", limiter.PerUser())
		aiGroup.POST("/search", s.AIService.Search)
		aiGroup.POST("/completions", s.AIService.Complete)
	}
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/internal/profile"
	apiv1 "github.com/christoph-codes/RecallAI-sub000/server/router/api/v1"
	"github.com/christoph-codes/RecallAI-sub000/server/runner/embedding"
	"github.com/christoph-codes/RecallAI-sub000/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	apiV1Service *apiv1.APIV1Service
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	s.echoServer = echoServer

	s.apiV1Service = apiv1.NewAPIV1Service(profile, store)
	s.apiV1Service.RegisterRoutes(echoServer)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	go s.StartBackgroundRunners(ctx)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartBackgroundRunners launches the embedding backfill loop. Vector
// storage needs pgvector, so the runner only starts on postgres.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	embedder := s.apiV1Service.Embedder()
	if embedder == nil || s.Profile.Driver != "postgres" {
		return
	}
	runner := embedding.NewRunner(s.Store, embedder, s.Profile.AIEmbeddingModel)
	runner.Run(ctx)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		fmt.Printf("failed to shutdown server, error: %+v\n", err)
	}
	if err := s.Store.Close(); err != nil {
		fmt.Printf("failed to close database, error: %+v\n", err)
	}

	fmt.Printf("recall stopped properly\n")
}

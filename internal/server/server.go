// Package server provides the HTTP API for kagami.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
	"go.uber.org/zap"
)

// ImageService is the set of operations the API exposes.
type ImageService interface {
	Add(ctx context.Context, in *models.ImageInput) (*models.AddResponse, error)
	AddBatch(ctx context.Context, inputs []*models.ImageInput) (*models.BatchResponse, error)
	Search(ctx context.Context, img []byte, k int) (*models.SearchResponse, error)
	Delete(ctx context.Context, id string) (*models.DeleteResponse, error)
	Rebuild(ctx context.Context) (*models.RebuildResponse, error)
	Sync(ctx context.Context) (*models.RebuildResponse, error)
	Reset(ctx context.Context) (*models.ResetResponse, error)
	Lookup(ctx context.Context, q *models.LookupQuery) ([]*models.LookupResult, error)
	Get(ctx context.Context, id string) (*models.Image, error)
	Raw(ctx context.Context, id string) ([]byte, error)
	Status(ctx context.Context) *models.Status
	Ready() bool
}

// Server is the HTTP server for the kagami API.
type Server struct {
	svc    ImageService
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(svc ImageService, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:    svc,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5, "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/images", s.handleAddImage)
		r.Get("/images", s.handleLookup)
		r.Post("/images/batch", s.handleAddBatch)
		r.Get("/images/{id}", s.handleGetImage)
		r.Get("/images/{id}/raw", s.handleRawImage)
		r.Delete("/images/{id}", s.handleDeleteImage)
		r.Post("/search", s.handleSearch)
		r.Post("/index/rebuild", s.handleRebuild)
		r.Post("/index/sync", s.handleSync)
		r.Post("/index/reset", s.handleReset)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	// routes kept for clients of the earlier single-file service
	r.Get("/", s.handleLegacyStatus)
	r.Post("/add", s.handleLegacyAdd)
	r.Post("/add-batch", s.handleLegacyAddBatch)
	r.Post("/search", s.handleLegacySearch)
	r.Post("/delete", s.handleLegacyDelete)
	r.Post("/reload", s.handleLegacyReload)
	r.Post("/reset", s.handleLegacyReset)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

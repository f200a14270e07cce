// Package server provides the HTTP API for temuan.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/feedback"
	"github.com/hyperjump/temuan/internal/indexer"
	"github.com/hyperjump/temuan/internal/keyword"
	"github.com/hyperjump/temuan/internal/search"
	"github.com/hyperjump/temuan/internal/storage"
	"github.com/hyperjump/temuan/internal/textfeat"
)

// TextModels reports the active text model.
type TextModels interface {
	Current() (*textfeat.Model, error)
}

// Server is the HTTP server for the temuan API.
type Server struct {
	engine     *search.Engine
	indexer    *indexer.Indexer
	thresholds *feedback.Controller
	storage    storage.Storage
	catalog    keyword.Catalog
	text       TextModels
	config     *config.ServerConfig
	logger     *zap.Logger
	limiter    *rate.Limiter
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	thresholds *feedback.Controller,
	storage storage.Storage,
	catalog keyword.Catalog,
	text TextModels,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	limit := rate.Inf
	if cfg.FeedbackRate > 0 {
		limit = rate.Limit(cfg.FeedbackRate)
	}
	burst := cfg.FeedbackBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		engine:     engine,
		indexer:    idx,
		thresholds: thresholds,
		storage:    storage,
		catalog:    catalog,
		text:       text,
		config:     cfg,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/match", s.handleMatch)
		r.With(s.rateLimit).Post("/feedback", s.handleFeedback)
		r.Get("/thresholds", s.handleThresholds)
		r.Post("/thresholds/recompute", s.handleRecompute)

		r.Post("/items", s.handleRegisterItem)
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Put("/items/{id}/status", s.handleUpdateStatus)
		r.Delete("/items/{id}", s.handleDeleteItem)

		r.Post("/admin/retrain", s.handleRetrain)
		r.Post("/admin/refresh", s.handleRefresh)

		r.Get("/debug/text", s.handleDebugText)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// rateLimit rejects requests beyond the feedback budget with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.respondError(w, http.StatusTooManyRequests, "too many feedback submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
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

// Package server provides the HTTP API for callscope.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

// Searcher runs search queries.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// Enricher runs enrichment tasks.
type Enricher interface {
	Enrich(ctx context.Context, req models.EnrichRequest) (*models.EnrichmentResult, error)
}

// Rebuilder writes transcripts into the index.
type Rebuilder interface {
	Rebuild(ctx context.Context, records []models.Transcript, mode models.RebuildMode) (*models.RebuildReport, error)
}

// PayloadSource looks up stored transcripts by id.
type PayloadSource interface {
	GetPayload(ctx context.Context, id string) (*models.Payload, error)
}

// StatusChecker builds status snapshots.
type StatusChecker interface {
	Check(ctx context.Context) *models.Status
}

// Server is the HTTP server for the callscope API.
type Server struct {
	search   Searcher
	enricher Enricher
	indexer  Rebuilder
	payloads PayloadSource
	status   StatusChecker
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	search Searcher,
	enricher Enricher,
	idx Rebuilder,
	payloads PayloadSource,
	status StatusChecker,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		search:   search,
		enricher: enricher,
		indexer:  idx,
		payloads: payloads,
		status:   status,
		config:   cfg,
		logger:   utils.OrNop(logger),
	}
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/analyze/topics", s.handleEnrich(models.EnrichTopics))
		r.Post("/analyze/classify", s.handleEnrich(models.EnrichClassify))
		r.Get("/transcripts/{id}", s.handleGetTranscript)
		r.Post("/index", s.handleIndex)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	return otelhttp.NewHandler(r, "callscope")
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

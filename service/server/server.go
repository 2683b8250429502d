package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/config"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/brojonat/walletgraph/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the wallet graph service.
type Server struct {
	addr         string
	cfg          *config.Config
	runner       GraphRunner
	classifier   classify.Classifier
	store        QueryStore
	jobs         temporal.JobRunner
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, query log endpoints won't be available.
// The jobs runner is optional - if nil, job endpoints won't be available.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, runner GraphRunner, classifier classify.Classifier, store QueryStore, jobs temporal.JobRunner, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		runner:       runner,
		classifier:   classifier,
		store:        store,
		jobs:         jobs,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	defaults := s.viewDefaults()

	// Graph routes
	s.handle(mux, "GET /api/v1/graph/{address}", "graph", handleGetGraph(s.runner, defaults, s.logger))
	s.handle(mux, "GET /api/v1/graph/{address}/ws", "graph_ws", handleGraphWebsocket(s.runner, defaults, s.metrics, s.logger))
	s.handle(mux, "GET /api/v1/classify/{address}", "classify", handleClassify(s.classifier, s.logger))

	// Job routes (if Temporal is configured)
	if s.jobs != nil {
		s.handle(mux, "POST /api/v1/jobs", "jobs_start", handleStartJob(s.jobs, s.logger))
		s.handle(mux, "GET /api/v1/jobs/{id}", "jobs_get", handleGetJob(s.jobs, s.logger))
	} else {
		s.logger.Warn("temporal not configured, job endpoints disabled")
	}

	// Query log routes (if the database is configured)
	if s.store != nil {
		s.handle(mux, "GET /api/v1/queries", "queries_list", handleListQueries(s.store, s.logger))
		s.handle(mux, "GET /api/v1/queries/{id}", "queries_get", handleGetQuery(s.store, s.logger))
	} else {
		s.logger.Warn("database not configured, query log endpoints disabled")
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/graphs/{address}", handleStreamGraphs(s.ssePublisher, s.logger))
		mux.Handle("GET /api/v1/stream/graphs", handleStreamGraphs(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // graph builds page through the indexer
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, h http.Handler) {
	if s.metrics != nil {
		h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}
	mux.Handle(pattern, h)
}

func (s *Server) viewDefaults() viewParams {
	view := viewParams{
		MaxNodes: graph.DefaultMaxNodes,
		Top:      graph.DefaultTopLimit,
	}
	if s.cfg != nil && s.cfg.MaxRenderNodes > 0 {
		view.MaxNodes = s.cfg.MaxRenderNodes
	}
	return view
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}

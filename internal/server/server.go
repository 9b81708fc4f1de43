// Package server provides the HTTP API over the persisted tables.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/matsen/scholartab/internal/classify"
	"github.com/matsen/scholartab/internal/dashboard"
	"github.com/matsen/scholartab/internal/observability"
)

// Default and maximum result sizes for the top-N endpoints.
const (
	DefaultTopN = 10
	MaxTopN     = 1000
)

// Source supplies the current tables.
type Source interface {
	Snapshot() (*dashboard.Snapshot, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	source     Source
	classifier *classify.Classifier
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates a server. classifier may be nil, in which case predictions
// answer 503.
func New(cfg Config, source Source, classifier *classify.Classifier, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		source:     source,
		classifier: classifier,
		metrics:    metrics,
		logger:     logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/years", s.yearsHandler)
		r.Get("/papers/by-year", s.papersByYearHandler)
		r.Get("/journals/top", s.topJournalsHandler)
		r.Get("/classification-codes/top", s.topCodesHandler)
		r.Get("/classification-codes/trends", s.trendsHandler)
		r.Get("/affiliations/countries", s.countriesHandler)
		r.Get("/keywords/top", s.keywordsHandler)
		r.Get("/authors/top", s.topAuthorsHandler)
		r.Post("/predict", s.predictHandler)
	})

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

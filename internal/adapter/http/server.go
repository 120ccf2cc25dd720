package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"github.com/couchcryptid/needmap-service/internal/scoring"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// CatalogReader serves the unified resource catalog.
type CatalogReader interface {
	Get(ctx context.Context) (domain.Snapshot, error)
}

// ObservationStore records and lists need observations.
type ObservationStore interface {
	Append(ctx context.Context, r domain.Report) (domain.Observation, error)
	List(ctx context.Context) ([]domain.Observation, error)
}

// Recommender scores candidate locations for new services.
type Recommender interface {
	Params() scoring.Params
	Recommend(ctx context.Context, observations []domain.Observation, services []domain.Coordinates, bounds domain.Bounds, p scoring.Params) ([]domain.Recommendation, error)
}

// API bundles the components behind the public endpoints.
type API struct {
	Catalog   CatalogReader
	Store     ObservationStore
	Scorer    Recommender
	HexCellKm float64
}

// Server exposes the public API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	api        API
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer creates an HTTP server with the API routes and /healthz, /readyz,
// and /metrics.
func NewServer(addr string, api API, ready ReadinessChecker, logger *slog.Logger, metrics *observability.Metrics) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      withRequestLogging(logger, mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		api:     api,
		logger:  logger,
		metrics: metrics,
	}

	mux.HandleFunc("GET /resources", s.handleResources)
	mux.HandleFunc("GET /insights/hotspots", s.handleHotspots)
	mux.HandleFunc("POST /report", s.handleReport)
	mux.HandleFunc("GET /reports", s.handleReports)
	mux.HandleFunc("POST /recommendations", s.handleRecommendations)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// AllReady combines checkers and reports every one that is not ready.
func AllReady(checkers ...ReadinessChecker) ReadinessChecker {
	return readinessGroup(checkers)
}

type readinessGroup []ReadinessChecker

func (g readinessGroup) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range g {
		if err := c.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

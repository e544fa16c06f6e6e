// Package api exposes the HTTP interface for inspecting crawl state and
// discovered records.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/metrics"
	"github.com/rfpscout/rfpscout/internal/middleware"
	"github.com/rfpscout/rfpscout/internal/pipeline"
)

const defaultListLimit = 100

// RecordEntry pairs a persisted record with its score for API responses.
type RecordEntry struct {
	Record pipeline.ValidatedRecord `json:"record"`
	Score  pipeline.ScoreResult     `json:"score"`
}

// RecordLister reads persisted records back out of a sink.
type RecordLister interface {
	ListRecords(ctx context.Context, highPriorityOnly bool, limit int) ([]RecordEntry, error)
}

// Seeder admits new start URLs into the frontier.
type Seeder interface {
	Seed(ctx context.Context, urls []string) (int, error)
}

// Server wires HTTP handlers to the frontier and record sink.
type Server struct {
	router   chi.Router
	frontier pipeline.Frontier
	records  RecordLister
	seeder   Seeder
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The seeder is
// optional; without one, POST /v1/seed answers 503.
func NewServer(fr pipeline.Frontier, records RecordLister, seeder Seeder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		frontier: fr,
		records:  records,
		seeder:   seeder,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/records", s.listRecords)
		r.Get("/frontier/stats", s.frontierStats)
		r.Post("/seed", s.seed)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The frontier is the one dependency every mode needs; if its stats
	// call fails, the service cannot make progress.
	if _, err := s.frontier.Stats(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	highPriorityOnly := r.URL.Query().Get("high_priority") == "true"

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.records.ListRecords(r.Context(), highPriorityOnly, limit)
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if entries == nil {
		entries = []RecordEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"records": entries,
		"count":   len(entries),
	})
}

func (s *Server) frontierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.frontier.Stats(r.Context())
	if err != nil {
		s.logger.Error("frontier stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read frontier stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type seedRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	if s.seeder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "seeding not enabled")
		return
	}
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	admitted, err := s.seeder.Seed(r.Context(), req.URLs)
	if err != nil {
		s.logger.Error("seed failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"admitted": admitted})
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

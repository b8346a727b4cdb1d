// Package api exposes the analysis engine over HTTP: trigger and query
// endpoints, the run history, exports, and the live progress stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"prime-flipper/internal/catalog"
	"prime-flipper/internal/config"
	"prime-flipper/internal/db"
	"prime-flipper/internal/engine"
	"prime-flipper/internal/market"
)

// Server wires the analyzer, run store, and catalog into the REST surface.
type Server struct {
	cfg      *config.Config
	analyzer *engine.Analyzer
	store    *db.Store
	catalog  *catalog.Cache
	logger   *zap.Logger
	started  time.Time
}

func NewServer(cfg *config.Config, analyzer *engine.Analyzer, store *db.Store, cat *catalog.Cache, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		analyzer: analyzer,
		store:    store,
		catalog:  cat,
		logger:   logger,
		started:  time.Now().UTC(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/analysis", s.handleGetAnalysis)
		r.Post("/analysis", s.handleTriggerAnalysis)
		r.Get("/analysis/status", s.handleStatus)
		r.Get("/analysis/progress", s.handleProgress)
		r.Post("/analysis/rescore", s.handleRescore)
		r.Get("/analysis/strategies", s.handleStrategies)

		r.Get("/history", s.handleHistory)
		r.Get("/history/{id}", s.handleHistoryDetail)
		r.Get("/history/{id}/analysis", s.handleHistoryAnalysis)

		r.Get("/sets", s.handleSets)
		r.Get("/sets/{slug}", s.handleSetDetail)
		r.Get("/sets/{slug}/history", s.handleSetHistory)

		r.Get("/stats", s.handleStats)
		r.Get("/stats/health", s.handleHealth)

		r.Get("/export", s.handleExport)
		r.Get("/export/file", s.handleExportFile)
		r.Get("/export/summary", s.handleExportSummary)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			origin = s.cfg.CORSOrigins[0]
			for _, o := range s.cfg.CORSOrigins {
				if o == r.Header.Get("Origin") {
					origin = o
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeDomainError maps engine, store, and upstream error kinds onto
// HTTP status codes. A trigger conflict carries the current run id.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var conflict *engine.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"detail": "analysis already running",
			"run_id": conflict.RunID,
		})
	case errors.Is(err, engine.ErrUnknownStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrRunNotFound), errors.Is(err, market.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrRateLimited),
		errors.Is(err, market.ErrTimeout),
		errors.Is(err, market.ErrUpstream),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request-failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

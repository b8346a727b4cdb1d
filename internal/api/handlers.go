package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"prime-flipper/internal/db"
	"prime-flipper/internal/engine"
)

func runParams(r *http.Request) engine.Params {
	q := r.URL.Query()
	return engine.Params{
		Strategy:     q.Get("strategy"),
		Mode:         engine.ParseExecutionMode(q.Get("execution_mode")),
		ForceRefresh: q.Get("force_refresh") == "true",
		TestMode:     q.Get("test_mode") == "true",
	}
}

// handleGetAnalysis returns the latest run, rescored to the requested
// strategy and mode when they differ, or runs a fresh analysis when none
// exists or force_refresh is set.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	p := runParams(r)

	if !p.ForceRefresh {
		res, err := s.analyzer.Latest(r.Context(), p.Strategy, p.Mode)
		if err == nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
		if !errors.Is(err, db.ErrRunNotFound) {
			s.writeDomainError(w, err)
			return
		}
	}

	res, err := s.analyzer.Run(r.Context(), p)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTriggerAnalysis starts a background run.
func (s *Server) handleTriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	p := runParams(r)
	if err := s.analyzer.Trigger(p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "analysis started in background",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analyzer.Status())
}

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.analyzer.RescoreLatest(r.Context(),
		q.Get("strategy"), engine.ParseExecutionMode(q.Get("execution_mode")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": engine.Strategies(),
		"default":    s.cfg.DefaultStrategy,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 20)

	runs, total, err := s.store.ListRuns(r.Context(), page, pageSize)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":      runs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	detail, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleHistoryAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	res, err := s.store.GetFullAnalysis(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.store.AllSets(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sets": sets, "total": len(sets)})
}

func (s *Server) handleSetDetail(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	set, ok := s.catalog.SetBySlug(slug)
	if !ok {
		writeError(w, http.StatusNotFound, "set not found: "+slug)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleSetHistory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	points, err := s.store.SetHistory(r.Context(), slug)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "no history for set: "+slug)
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"set_slug": slug, "history": points})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DBStats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if _, err := s.store.DBStats(r.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"database":       dbStatus,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ex, err := s.store.ExportAll(r.Context(), true)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.SaveExportFile(r.Context(), s.cfg.CacheDir)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": path})
}

func (s *Server) handleExportSummary(w http.ResponseWriter, r *http.Request) {
	ex, err := s.store.ExportAll(r.Context(), false)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func runID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func intQuery(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}

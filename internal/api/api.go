// Package api exposes the review system over HTTP for the dashboard
// client. It is a thin layer: every operation delegates to the review
// System facade.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	system *review.System
	store  store.Store
	logger *slog.Logger
	ingest func(models.EmailMessage)
}

// NewServer creates a new API server.
func NewServer(sys *review.System, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{system: sys, store: st, logger: logger}
}

// SetIngest enables POST /api/v1/emails, delivering accepted messages into
// sink. Call before Router.
func (s *Server) SetIngest(sink func(models.EmailMessage)) {
	s.ingest = sink
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	if s.ingest != nil {
		mux.HandleFunc("POST /api/v1/emails", s.ingestEmail)
	}

	mux.HandleFunc("GET /api/v1/reviews/pending", s.listPending)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}/history", s.getHistory)
	mux.HandleFunc("POST /api/v1/reviews/{id}/accept", s.acceptReview)
	mux.HandleFunc("POST /api/v1/reviews/{id}/reject", s.rejectReview)
	mux.HandleFunc("POST /api/v1/reviews/{id}/modify", s.modifyReview)

	mux.HandleFunc("GET /api/v1/stats", s.getStats)
	mux.HandleFunc("GET /api/v1/activity", s.getActivity)
	mux.HandleFunc("GET /api/v1/metrics", s.getMetrics)
	mux.HandleFunc("GET /api/v1/intents", s.getIntentStats)

	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDecisionError maps lifecycle errors to client-fault statuses. A
// double submit or stale dashboard must never surface as a 500.
func writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrNotInPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Reviews ---

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.system.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": pending, "count": len(pending)})
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rev, err := s.system.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := s.system.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) acceptReview(w http.ResponseWriter, r *http.Request) {
	out, err := s.system.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review":   out.Review,
		"intent":   out.Intent,
		"entities": out.Entities,
	})
}

func (s *Server) rejectReview(w http.ResponseWriter, r *http.Request) {
	out, err := s.system.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": out.Review})
}

func (s *Server) modifyReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intent string `json:"intent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Intent == "" {
		writeError(w, http.StatusBadRequest, "intent is required")
		return
	}

	out, err := s.system.Modify(r.Context(), r.PathValue("id"), body.Intent)
	if err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review":   out.Review,
		"intent":   out.Intent,
		"entities": out.Entities,
	})
}

func (s *Server) ingestEmail(w http.ResponseWriter, r *http.Request) {
	var msg models.EmailMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	s.ingest(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- Dashboard data ---

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.system.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	activity, err := s.store.RecentActivity(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.LatestMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) getIntentStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	stats, err := s.store.IntentStats(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"research-analyzer/internal/history"
)

// handleListHistory lists recent research runs, newest first.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "History is disabled")
		return
	}

	limit := history.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(parsed, history.MaxListLimit)
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records, "count": len(records)})
}

// handleGetHistory returns one run with its answer and reasoning.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "History is disabled")
		return
	}

	rec, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeNotFound(w, "Research run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "History is disabled")
		return
	}

	err := s.history.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeNotFound(w, "Research run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete history")
		return
	}
	writeSuccess(w, "Research run deleted")
}

package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/llkhacquan/tmux-claude-bridge/internal/orchestrator"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.orch.Registry().List(),
	})
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/sessions/"
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := s.orch.Registry().Get(id)
		if err != nil {
			if errors.Is(err, orchestrator.ErrNotFound) {
				writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
				return
			}
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)

	case http.MethodDelete:
		if err := s.orch.Registry().Discard(id); err != nil {
			if errors.Is(err, orchestrator.ErrNotFound) {
				writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
				return
			}
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"discarded": id})

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if err := s.orch.Focus(s.target); err != nil {
		writeAPIError(w, http.StatusBadGateway, "FOCUS_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"focused": s.target.ID()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.hist == nil {
		writeAPIError(w, http.StatusNotFound, "HISTORY_DISABLED", "history log is not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be 1..1000")
			return
		}
		limit = n
	}

	entries, err := s.hist.Recent(limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/pkg/models"
)

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleListEpisodes serves GET /api/episodes with the full filter set:
// session_id, min_score, since (RFC3339), notable, limit.
func (s *Service) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	q := store.Query{
		SessionID:   r.URL.Query().Get("session_id"),
		MinScore:    parseFloatParam(r, "min_score", 0),
		NotableOnly: r.URL.Query().Get("notable") == "true",
		Limit:       parseLimitParam(r, 0),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		q.Since = t
	}

	episodes, err := s.store.RetrieveEpisodes(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": episodes})
}

// handleNotableEpisodes serves GET /api/episodes/notable.
func (s *Service) handleNotableEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.store.RetrieveNotable(r.Context(), parseLimitParam(r, store.DefaultNotableLimit))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": episodes})
}

// handleSessionEpisodes serves GET /api/sessions/{sessionID}/episodes.
func (s *Service) handleSessionEpisodes(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	episodes, err := s.store.RetrieveEpisodes(r.Context(), store.Query{
		SessionID: sessionID,
		MinScore:  parseFloatParam(r, "min_score", 0),
		Limit:     parseLimitParam(r, 0),
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"episodes":   episodes,
	})
}

func (s *Service) writeStoreError(w http.ResponseWriter, err error) {
	var unavailable *models.StorageUnavailableError
	if errors.As(err, &unavailable) {
		writeError(w, http.StatusServiceUnavailable, unavailable.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// parseLimitParam parses the limit query parameter with a default value.
func parseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}

func parseFloatParam(r *http.Request, name string, def float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package worker

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/config"
	"github.com/thebtf/chatrelay/internal/worker/postproc"
	"github.com/thebtf/chatrelay/pkg/models"
)

// maxListLimit caps limit query parameters.
const maxListLimit = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads the limit query parameter, falling back to def for
// missing or non-positive values.
func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (s *Service) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"service": "Realtime AI Backend",
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.version,
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"clients":   s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := s.ledger.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !s.ledger.DeleteSession(r.Context(), sessionID) {
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var types []models.EventType
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, models.EventType(t))
		}
	}

	writeJSON(w, http.StatusOK, s.ledger.GetEvents(r.Context(), sessionID, types...))
}

func (s *Service) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, s.ledger.GetConversation(r.Context(), sessionID))
}

func (s *Service) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, s.ledger.GetStatistics(r.Context(), sessionID))
}

func (s *Service) handleGetInsights(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	insights := postproc.GenerateInsights(r.Context(), s.ledger, sessionID)
	if insights.Error == "Session not found" {
		writeJSON(w, http.StatusNotFound, insights)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Service) handleGetUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := parseLimit(r, config.DefaultRecentSessionsLimit)
	writeJSON(w, http.StatusOK, s.ledger.GetRecentSessions(r.Context(), userID, limit))
}

func (s *Service) handleGetUserPatterns(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := parseLimit(r, config.DefaultPatternSessionsLimit)
	writeJSON(w, http.StatusOK, postproc.AnalyzePatterns(r.Context(), s.ledger, userID, limit))
}

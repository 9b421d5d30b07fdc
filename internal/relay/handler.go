package relay

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/config"
)

// TransportConfigFrom builds the websocket settings from cfg.
func TransportConfigFrom(cfg *config.Config) TransportConfig {
	return TransportConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		ReadLimit:      int64(cfg.WSReadLimit),
		PingInterval:   cfg.WSPingInterval(),
		WriteTimeout:   cfg.WSWriteTimeout(),
	}
}

// Handler upgrades GET /ws/session/{sessionID} and serves the session until
// it closes.
func (r *Relay) Handler(tc TransportConfig) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(tc.AllowedOrigins),
	}

	return func(w http.ResponseWriter, req *http.Request) {
		sessionID := strings.TrimSpace(chi.URLParam(req, "sessionID"))
		if sessionID == "" {
			http.Error(w, "session id required", http.StatusBadRequest)
			return
		}

		// Counted before the upgrade, while the server still tracks the request.
		r.live.Add(1)
		defer r.live.Done()

		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Websocket upgrade failed")
			return
		}

		r.Serve(req.Context(), sessionID, newWSConn(ws, tc))
	}
}

// originChecker allows any origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}

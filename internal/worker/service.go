// Package worker provides the HTTP service for chatrelay: the relay
// websocket endpoint, the reporting API and the lifecycle event feed.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/config"
	"github.com/thebtf/chatrelay/internal/ledger"
	"github.com/thebtf/chatrelay/internal/relay"
	"github.com/thebtf/chatrelay/internal/worker/sse"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Service serves the chatrelay HTTP surface.
type Service struct {
	startTime      time.Time
	ctx            context.Context
	config         *config.Config
	ledger         *ledger.Ledger
	relay          *relay.Relay
	sseBroadcaster *sse.Broadcaster
	router         *chi.Mux
	cancel         context.CancelFunc
	version        string
	transport      relay.TransportConfig
	ready          atomic.Bool
}

// NewService creates the service and its routes. It is not ready until Start
// has bound its listener.
func NewService(version string, cfg *config.Config, l *ledger.Ledger, r *relay.Relay, b *sse.Broadcaster) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:        version,
		config:         cfg,
		ledger:         l,
		relay:          r,
		sseBroadcaster: b,
		transport:      relay.TransportConfigFrom(cfg),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/", s.handleRoot)
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/ws/session/{sessionID}", s.relay.Handler(s.transport))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events", s.sseBroadcaster.HandleSSE)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/events", s.handleGetEvents)
			r.Get("/conversation", s.handleGetConversation)
			r.Get("/statistics", s.handleGetStatistics)
			r.Get("/insights", s.handleGetInsights)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/sessions", s.handleGetUserSessions)
			r.Get("/patterns", s.handleGetUserPatterns)
		})
	})
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Ready reports whether the service accepts traffic.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Start listens on addr and serves until ctx is done.
func (s *Service) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done, then shuts down
// gracefully. Open relay sessions are cancelled and Serve returns only after
// they have finished closing, bounded by ShutdownTimeout.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		s.cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		}
		// Shutdown does not track hijacked websocket connections.
		if err := s.relay.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Relay sessions still closing at shutdown deadline")
		}
	}()

	s.ready.Store(true)
	log.Info().Str("addr", listener.Addr().String()).Str("version", s.version).Msg("HTTP server listening")

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

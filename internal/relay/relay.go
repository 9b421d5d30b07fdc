// Package relay runs live chat sessions: it carries user messages to the
// completion provider and streams the generated tokens back to the client,
// recording every step in the session ledger.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/ledger"
	"github.com/thebtf/chatrelay/internal/llm"
	"github.com/thebtf/chatrelay/internal/protocol"
	"github.com/thebtf/chatrelay/internal/telemetry"
	"github.com/thebtf/chatrelay/internal/tools"
	"github.com/thebtf/chatrelay/internal/worker/sse"
	"github.com/thebtf/chatrelay/pkg/models"
)

// State is a session's position in the connection lifecycle.
type State int

const (
	StateOpening State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultCloseTimeout bounds the cleanup work done in CLOSING.
const DefaultCloseTimeout = 10 * time.Second

// Dispatcher hands a closed session to post-processing. It must not block
// on the outcome.
type Dispatcher interface {
	Dispatch(sessionID string)
}

// Notifier receives lifecycle notifications.
type Notifier interface {
	Notify(event sse.LifecycleEvent)
}

// Relay holds the shared services every session uses. It is safe for
// concurrent use by many sessions.
type Relay struct {
	ledger       *ledger.Ledger
	provider     llm.CompletionProvider
	registry     *tools.Registry
	triggers     *tools.Triggers
	dispatcher   Dispatcher
	notifier     Notifier
	metrics      *telemetry.Metrics
	closeTimeout time.Duration

	// live counts sessions accepted by Handler that have not finished closing.
	live sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithTools sets the demo tool registry and the keyword table that triggers it.
func WithTools(registry *tools.Registry, triggers *tools.Triggers) Option {
	return func(r *Relay) {
		r.registry = registry
		r.triggers = triggers
	}
}

// WithDispatcher sets where closed sessions are sent for post-processing.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Relay) { r.dispatcher = d }
}

// WithNotifier sets the lifecycle notification sink.
func WithNotifier(n Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithCloseTimeout bounds the CLOSING step.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.closeTimeout = d
		}
	}
}

// New creates a relay. Without WithTools the builtin tools and default
// triggers are used.
func New(l *ledger.Ledger, provider llm.CompletionProvider, opts ...Option) *Relay {
	r := &Relay{
		ledger:       l,
		provider:     provider,
		registry:     tools.NewBuiltinRegistry(),
		triggers:     tools.DefaultTriggers(),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until every session accepted by Handler has closed, or ctx is
// done.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// session is the state owned by one connection.
type session struct {
	relay   *Relay
	conn    Conn
	id      string
	userID  string
	state   State
	opened  bool
	history []models.Message
}

// Serve runs one session from OPENING to CLOSED and returns the final state.
// Closing always runs, whatever ended the session.
func (r *Relay) Serve(ctx context.Context, sessionID string, conn Conn) State {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A disconnect cancels any in-flight provider stream.
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	s := &session{
		relay:  r,
		conn:   conn,
		id:     sessionID,
		userID: models.UserIDFromSessionID(sessionID),
		state:  StateOpening,
	}

	outcome := telemetry.OutcomeClean
	err := s.open(ctx)
	if err == nil {
		s.state = StateActive
		r.metrics.SessionOpened(ctx)
		err = s.run(ctx)
	}

	switch {
	case err == nil:
	case isDisconnect(ctx, err):
		outcome = telemetry.OutcomeDisconnected
		log.Debug().Str("sessionId", sessionID).Msg("Client disconnected")
	default:
		outcome = telemetry.OutcomeError
		log.Warn().Err(err).Str("sessionId", sessionID).Str("state", s.state.String()).Msg("Session failed")
		if werr := conn.WriteJSON(protocol.NewError(err.Error())); werr != nil {
			log.Debug().Err(werr).Str("sessionId", sessionID).Msg("Failed to send error frame")
		}
	}

	s.state = StateClosing
	s.close(ctx, outcome)
	s.state = StateClosed
	return s.state
}

func isDisconnect(ctx context.Context, err error) bool {
	return errors.Is(err, ErrDisconnected) || ctx.Err() != nil
}

// open creates the session record and acknowledges the client.
func (s *session) open(ctx context.Context) error {
	l := s.relay.ledger

	sess, err := l.CreateSession(ctx, s.id, s.userID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.opened = true

	_, _ = l.LogEvent(ctx, s.id, models.EventSessionStart, map[string]any{"user_id": s.userID}, nil)

	log.Info().Str("sessionId", s.id).Str("userId", s.userID).Msg("Session opened")
	s.notify(sse.EventSessionOpened, string(sess.Status), "")

	return s.conn.WriteJSON(protocol.NewSessionStart(s.id, sess.StartTime))
}

// run is the ACTIVE receive loop. It returns nil only if ctx ends cleanly.
func (s *session) run(ctx context.Context) error {
	for {
		data, err := s.conn.ReadMessage(ctx)
		if err != nil {
			return err
		}

		frame, err := protocol.DecodeInbound(data)
		if err != nil {
			return err
		}
		if !frame.IsUserMessage() {
			log.Debug().Str("sessionId", s.id).Str("type", frame.Type).Msg("Ignoring inbound frame")
			continue
		}

		if err := s.handleUserMessage(ctx, frame.Content); err != nil {
			return err
		}
	}
}

func (s *session) handleUserMessage(ctx context.Context, content string) error {
	l := s.relay.ledger

	_, _ = l.LogEvent(ctx, s.id, models.EventUserMessage, map[string]any{"content": content}, nil)
	s.history = append(s.history, models.Message{Role: models.RoleUser, Content: content, Timestamp: time.Now().UTC()})

	if err := s.runTools(ctx, content); err != nil {
		return err
	}

	reply, err := s.streamReply(ctx)
	if err != nil {
		return err
	}

	if err := s.conn.WriteJSON(protocol.NewResponseComplete()); err != nil {
		return err
	}
	s.history = append(s.history, models.Message{Role: models.RoleAssistant, Content: reply, Timestamp: time.Now().UTC()})
	_, _ = l.LogEvent(ctx, s.id, models.EventAssistantResponse, map[string]any{"content": reply}, nil)
	return nil
}

// runTools executes every tool the message triggers, reports each result to
// the client, and adds it to the provider's context as a system message.
func (s *session) runTools(ctx context.Context, content string) error {
	r := s.relay
	for _, inv := range r.triggers.Detect(content) {
		_, _ = r.ledger.LogEvent(ctx, s.id, models.EventFunctionCall, map[string]any{
			"function_name": inv.Tool,
			"arguments":     inv.Arguments,
		}, nil)

		result, err := r.registry.Execute(ctx, inv.Tool, inv.Arguments)
		if err != nil {
			return fmt.Errorf("tool %s: %w", inv.Tool, err)
		}
		r.metrics.ToolInvoked(ctx, inv.Tool)

		_, _ = r.ledger.LogEvent(ctx, s.id, models.EventFunctionResult, map[string]any{
			"function_name": inv.Tool,
			"result":        result,
		}, nil)

		if err := s.conn.WriteJSON(protocol.NewFunctionResult(inv.Tool, result)); err != nil {
			return err
		}
		s.history = append(s.history, models.Message{
			Role:      models.RoleSystem,
			Content:   toolNote(inv.Tool, result),
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

func toolNote(tool string, result map[string]any) string {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprint(result))
	}
	if tool == tools.ToolGetWeather {
		return "Weather data: " + string(data)
	}
	return fmt.Sprintf("Result of %s: %s", tool, data)
}

// streamReply forwards provider tokens as they arrive and returns the full text.
func (s *session) streamReply(ctx context.Context) (string, error) {
	r := s.relay

	history := make([]models.Message, len(s.history))
	copy(history, s.history)

	stream, err := r.provider.StreamCompletion(ctx, history)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var (
		sb     strings.Builder
		tokens int
	)
	defer func() { r.metrics.TokensRelayed(ctx, tokens) }()

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if err := s.conn.WriteJSON(protocol.NewToken(token)); err != nil {
			return "", err
		}
		tokens++
		sb.WriteString(token)
	}
}

// close ends the session, records the end event, and hands the session to
// post-processing. It runs on a fresh context so that a cancelled request
// does not skip cleanup.
func (s *session) close(parent context.Context, outcome string) {
	r := s.relay
	defer func() {
		if err := s.conn.Close(); err != nil {
			log.Debug().Err(err).Str("sessionId", s.id).Msg("Failed to close connection")
		}
		r.metrics.SessionClosed(parent, outcome)
	}()

	if !s.opened {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.closeTimeout)
	defer cancel()

	status := string(models.SessionStatusCompleted)
	sess, err := r.ledger.EndSession(ctx, s.id)
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Msg("Failed to end session")
	} else {
		status = string(sess.Status)
		log.Info().
			Str("sessionId", s.id).
			Int64("durationSeconds", sess.Duration()).
			Str("outcome", outcome).
			Msg("Session closed")
	}

	_, _ = r.ledger.LogEvent(ctx, s.id, models.EventSessionEnd, map[string]any{}, nil)

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(s.id)
	}
	s.notify(sse.EventSessionClosed, status, outcome)
}

func (s *session) notify(eventType, status, detail string) {
	if s.relay.notifier == nil {
		return
	}
	s.relay.notifier.Notify(sse.LifecycleEvent{
		At:        time.Now().UTC(),
		Type:      eventType,
		SessionID: s.id,
		Status:    status,
		Detail:    detail,
	})
}

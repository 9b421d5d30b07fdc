// Package ledger owns session and event persistence semantics for chatrelay:
// session creation and termination, append-only event logging, conversation
// reconstruction and aggregate statistics.
//
// Operations on the critical path (CreateSession, EndSession, UpdateSummary)
// return errors. LogEvent returns its failure as a value for the caller to
// discard. Queries degrade to empty results on store failure.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/db"
	"github.com/thebtf/chatrelay/pkg/models"
)

// Ledger governs reads and writes of sessions and their events.
type Ledger struct {
	sessions db.SessionRecords
	events   db.EventRecords
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger over the given record stores.
func New(sessions db.SessionRecords, events db.EventRecords, opts ...Option) *Ledger {
	l := &Ledger{
		sessions: sessions,
		events:   events,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateSession registers a new active session.
func (l *Ledger) CreateSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	session := models.NewSession(sessionID, userID, l.now())
	if err := l.sessions.InsertSession(ctx, session); err != nil {
		return nil, storeError("create session", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("userId", userID).
		Msg("Session created")

	return session, nil
}

// EndSession marks an active session completed, recording its end time and
// duration in whole seconds. A session that has already ended is returned
// unchanged.
func (l *Ledger) EndSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := l.lookup(ctx, "end session", sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusActive {
		log.Warn().
			Str("sessionId", sessionID).
			Str("status", string(session.Status)).
			Msg("Session already ended, keeping first end time")
		return session, nil
	}

	end := l.now().UTC()
	duration := int64(end.Sub(session.StartTime) / time.Second)
	if duration < 0 {
		duration = 0
	}
	completed := models.SessionStatusCompleted

	n, err := l.sessions.UpdateSessions(ctx,
		db.SessionFilter{SessionID: sessionID, Statuses: []models.SessionStatus{models.SessionStatusActive}},
		db.SessionPatch{EndTime: &end, DurationSeconds: &duration, Status: &completed},
	)
	if err != nil {
		return nil, storeError("end session", err)
	}
	if n == 0 {
		// Another caller ended it between our read and write.
		return l.lookup(ctx, "end session", sessionID)
	}

	session.EndTime = &end
	session.DurationSeconds = &duration
	session.Status = completed

	log.Info().
		Str("sessionId", sessionID).
		Int64("durationSeconds", duration).
		Msg("Session ended")

	return session, nil
}

// UpdateSummary stores the post-session summary and marks the session summarized.
// Only completed sessions can be summarized.
func (l *Ledger) UpdateSummary(ctx context.Context, sessionID, summary string) (*models.Session, error) {
	session, err := l.lookup(ctx, "update summary", sessionID)
	if err != nil {
		return nil, err
	}

	if !session.Status.CanTransitionTo(models.SessionStatusSummarized) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, models.SessionStatusSummarized)
	}

	summarized := models.SessionStatusSummarized
	n, err := l.sessions.UpdateSessions(ctx,
		db.SessionFilter{SessionID: sessionID, Statuses: []models.SessionStatus{models.SessionStatusCompleted}},
		db.SessionPatch{Summary: &summary, Status: &summarized},
	)
	if err != nil {
		return nil, storeError("update summary", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: session %s is no longer completed", ErrInvalidTransition, sessionID)
	}

	session.Summary = &summary
	session.Status = summarized
	return session, nil
}

// LogEvent appends one event stamped with the current time.
// On failure it logs the problem and returns a zero Event with a *StoreError;
// callers are expected to discard the error and carry on.
func (l *Ledger) LogEvent(ctx context.Context, sessionID string, eventType models.EventType, data, metadata map[string]any) (models.Event, error) {
	if data == nil {
		data = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	event := models.Event{
		SessionID: sessionID,
		EventType: eventType,
		Timestamp: l.now().UTC(),
		Data:      data,
		Metadata:  metadata,
	}

	if err := l.events.InsertEvent(ctx, &event); err != nil {
		log.Error().
			Err(err).
			Str("sessionId", sessionID).
			Str("eventType", string(eventType)).
			Msg("Failed to log event")
		return models.Event{}, storeError("log event", err)
	}

	return event, nil
}

// GetEvents returns the session's events, optionally restricted to the given
// types, ordered by timestamp ascending. Store failures yield an empty slice.
func (l *Ledger) GetEvents(ctx context.Context, sessionID string, eventTypes ...models.EventType) []*models.Event {
	events, err := l.events.SelectEvents(ctx, db.EventFilter{SessionID: sessionID, EventTypes: eventTypes}, db.ByTimestampAsc, 0)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to fetch session events")
		return []*models.Event{}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// GetSession returns the session, or nil if it does not exist.
func (l *Ledger) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := l.getSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	return session, nil
}

// GetConversation reconstructs the user/assistant exchange from the event log.
func (l *Ledger) GetConversation(ctx context.Context, sessionID string) []models.Message {
	events := l.GetEvents(ctx, sessionID, models.ConversationEventTypes...)

	messages := make([]models.Message, 0, len(events))
	for _, e := range events {
		var role models.Role
		switch e.EventType {
		case models.EventUserMessage:
			role = models.RoleUser
		case models.EventAssistantResponse:
			role = models.RoleAssistant
		default:
			continue
		}
		messages = append(messages, models.Message{
			Role:      role,
			Content:   e.Content(),
			Timestamp: e.Timestamp,
		})
	}
	return messages
}

// GetRecentSessions returns up to limit of the user's sessions, newest first.
func (l *Ledger) GetRecentSessions(ctx context.Context, userID string, limit int) []*models.Session {
	sessions, err := l.sessions.SelectSessions(ctx, db.SessionFilter{UserID: userID}, db.ByStartTimeDesc, limit)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("Failed to fetch recent sessions")
		return []*models.Session{}
	}
	return sessions
}

// GetStatistics counts the session's events in a single pass.
func (l *Ledger) GetStatistics(ctx context.Context, sessionID string) models.Statistics {
	stats := models.NewStatistics()
	for _, e := range l.GetEvents(ctx, sessionID) {
		stats.Add(e.EventType)
	}
	return stats
}

// DeleteSession removes the session's events and then the session itself.
// It reports false on any failure.
func (l *Ledger) DeleteSession(ctx context.Context, sessionID string) bool {
	if _, err := l.events.DeleteEvents(ctx, db.EventFilter{SessionID: sessionID}); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to delete session events")
		return false
	}
	if _, err := l.sessions.DeleteSessions(ctx, db.SessionFilter{SessionID: sessionID}); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to delete session")
		return false
	}

	log.Info().Str("sessionId", sessionID).Msg("Session deleted")
	return true
}

func (l *Ledger) getSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sessions, err := l.sessions.SelectSessions(ctx, db.SessionFilter{SessionID: sessionID}, db.ByStartTimeDesc, 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// lookup fetches a session that must exist.
func (l *Ledger) lookup(ctx context.Context, op, sessionID string) (*models.Session, error) {
	session, err := l.getSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if session == nil {
		return nil, &NotFoundError{SessionID: sessionID}
	}
	return session, nil
}

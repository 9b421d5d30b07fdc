// Package dbtest provides an in-memory record store with failure injection
// for tests of packages built on internal/db.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/chatrelay/internal/db"
	"github.com/thebtf/chatrelay/pkg/models"
)

// ErrInjected is the error returned by operations configured to fail.
var ErrInjected = errors.New("injected store failure")

// Store is an in-memory implementation of db.SessionRecords and db.EventRecords.
type Store struct {
	sessions map[string]models.Session
	events   []models.Event
	failing  map[string]bool
	mu       sync.Mutex
}

var (
	_ db.SessionRecords = (*Store)(nil)
	_ db.EventRecords   = (*Store)(nil)
)

// Operation names accepted by FailOn.
const (
	OpInsertSession  = "InsertSession"
	OpUpdateSessions = "UpdateSessions"
	OpSelectSessions = "SelectSessions"
	OpDeleteSessions = "DeleteSessions"
	OpInsertEvent    = "InsertEvent"
	OpSelectEvents   = "SelectEvents"
	OpDeleteEvents   = "DeleteEvents"
)

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]models.Session),
		failing:  make(map[string]bool),
	}
}

// FailOn makes the named operations return ErrInjected until Heal is called.
func (s *Store) FailOn(ops ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.failing[op] = true
	}
}

// Heal clears all injected failures.
func (s *Store) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = make(map[string]bool)
}

// EventCount returns the number of stored events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// PutEvent stores an event verbatim, bypassing timestamp defaults.
func (s *Store) PutEvent(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events = append(s.events, e)
}

func (s *Store) fail(op string) error {
	if s.failing[op] {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (s *Store) InsertSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpInsertSession); err != nil {
		return err
	}
	if _, exists := s.sessions[session.SessionID]; exists {
		return db.ErrDuplicate
	}
	s.sessions[session.SessionID] = cloneSession(*session)
	return nil
}

func (s *Store) UpdateSessions(_ context.Context, filter db.SessionFilter, patch db.SessionPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpUpdateSessions); err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.sessions {
		if !matchSession(sess, filter) {
			continue
		}
		if patch.EndTime != nil {
			t := *patch.EndTime
			sess.EndTime = &t
		}
		if patch.DurationSeconds != nil {
			d := *patch.DurationSeconds
			sess.DurationSeconds = &d
		}
		if patch.Summary != nil {
			summary := *patch.Summary
			sess.Summary = &summary
		}
		if patch.Status != nil {
			sess.Status = *patch.Status
		}
		s.sessions[id] = sess
		n++
	}
	return n, nil
}

func (s *Store) SelectSessions(_ context.Context, filter db.SessionFilter, order db.Order, limit int) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpSelectSessions); err != nil {
		return nil, err
	}
	out := make([]*models.Session, 0)
	for _, sess := range s.sessions {
		if matchSession(sess, filter) {
			c := cloneSession(sess)
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order.Desc {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteSessions(_ context.Context, filter db.SessionFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpDeleteSessions); err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.sessions {
		if matchSession(sess, filter) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertEvent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpInsertEvent); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, *event)
	return nil
}

// SelectEvents returns matching events in insertion order; order is ignored so
// callers that rely on timestamp ordering must sort for themselves.
func (s *Store) SelectEvents(_ context.Context, filter db.EventFilter, _ db.Order, limit int) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpSelectEvents); err != nil {
		return nil, err
	}
	out := make([]*models.Event, 0)
	for i := range s.events {
		if matchEvent(s.events[i], filter) {
			e := s.events[i]
			out = append(out, &e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteEvents(_ context.Context, filter db.EventFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpDeleteEvents); err != nil {
		return 0, err
	}
	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if matchEvent(e, filter) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func matchSession(sess models.Session, filter db.SessionFilter) bool {
	if filter.SessionID != "" && sess.SessionID != filter.SessionID {
		return false
	}
	if filter.UserID != "" && sess.UserID != filter.UserID {
		return false
	}
	if len(filter.Statuses) > 0 {
		for _, st := range filter.Statuses {
			if sess.Status == st {
				return true
			}
		}
		return false
	}
	return true
}

func matchEvent(e models.Event, filter db.EventFilter) bool {
	if filter.SessionID != "" && e.SessionID != filter.SessionID {
		return false
	}
	if len(filter.EventTypes) > 0 {
		for _, t := range filter.EventTypes {
			if e.EventType == t {
				return true
			}
		}
		return false
	}
	return true
}

func cloneSession(s models.Session) models.Session {
	c := s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		c.DurationSeconds = &d
	}
	if s.Summary != nil {
		summary := *s.Summary
		c.Summary = &summary
	}
	return c
}

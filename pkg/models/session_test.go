package models

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// SessionSuite is a test suite for session and event models.
type SessionSuite struct {
	suite.Suite
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) TestNewSession() {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	sess := NewSession("abc123456", "user_123456", start)

	s.Equal("abc123456", sess.SessionID)
	s.Equal("user_123456", sess.UserID)
	s.Equal(SessionStatusActive, sess.Status)
	s.Nil(sess.EndTime)
	s.Nil(sess.DurationSeconds)
	s.Nil(sess.Summary)
	s.Equal(time.UTC, sess.StartTime.Location())
	s.True(sess.StartTime.Equal(start))
}

func (s *SessionSuite) TestCanTransitionTo() {
	tests := []struct {
		from     SessionStatus
		to       SessionStatus
		expected bool
	}{
		{SessionStatusActive, SessionStatusCompleted, true},
		{SessionStatusCompleted, SessionStatusSummarized, true},
		{SessionStatusActive, SessionStatusSummarized, false},
		{SessionStatusCompleted, SessionStatusActive, false},
		{SessionStatusSummarized, SessionStatusCompleted, false},
		{SessionStatusSummarized, SessionStatusSummarized, false},
		{SessionStatusActive, SessionStatusActive, false},
		{SessionStatus("failed"), SessionStatusCompleted, false},
	}

	for _, tt := range tests {
		s.Run(string(tt.from)+"->"+string(tt.to), func() {
			s.Equal(tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func (s *SessionSuite) TestValid() {
	s.True(SessionStatusActive.Valid())
	s.True(SessionStatusSummarized.Valid())
	s.False(SessionStatus("").Valid())
}

func (s *SessionSuite) TestDurationAndSummaryText() {
	var nilSession *Session
	s.Equal(int64(0), nilSession.Duration())
	s.Equal("", nilSession.SummaryText())

	d := int64(42)
	summary := "done"
	sess := &Session{DurationSeconds: &d, Summary: &summary}
	s.Equal(int64(42), sess.Duration())
	s.Equal("done", sess.SummaryText())
}

func (s *SessionSuite) TestUserIDFromSessionID() {
	s.Equal("user_123456", UserIDFromSessionID("session-abc-123456"))
	s.Equal("user_abc", UserIDFromSessionID("abc"))
	s.Equal("user_", UserIDFromSessionID(""))

	// Multibyte ids are cut on characters, never inside one.
	id := UserIDFromSessionID("sesión-café-ñandú")
	s.Equal("user_-ñandú", id)
	s.True(utf8.ValidString(id))
}

func TestEvent_IsZero(t *testing.T) {
	assert.True(t, Event{}.IsZero())
	assert.False(t, Event{SessionID: "s1", EventType: EventUserMessage}.IsZero())
}

func TestEvent_DataAccessors(t *testing.T) {
	e := Event{Data: map[string]any{"content": "hello", "function_name": "get_weather"}}
	assert.Equal(t, "hello", e.Content())
	assert.Equal(t, "get_weather", e.FunctionName())

	empty := Event{}
	assert.Equal(t, "", empty.Content())
	assert.Equal(t, "unknown", empty.FunctionName())

	wrongType := Event{Data: map[string]any{"content": 12}}
	assert.Equal(t, "", wrongType.Content())
}

func TestStatistics_Add(t *testing.T) {
	stats := NewStatistics()
	for _, et := range []EventType{
		EventSessionStart, EventUserMessage, EventAssistantResponse,
		EventUserMessage, EventFunctionCall, EventFunctionResult, EventSessionEnd,
	} {
		stats.Add(et)
	}

	assert.Equal(t, 7, stats.TotalEvents)
	assert.Equal(t, 2, stats.UserMessages)
	assert.Equal(t, 1, stats.AssistantResponses)
	assert.Equal(t, 1, stats.FunctionCalls)

	sum := 0
	for _, n := range stats.EventTypes {
		sum += n
	}
	assert.Equal(t, stats.TotalEvents, sum)

	m := stats.AsMap()
	assert.Equal(t, 7, m["total_events"])
	assert.Equal(t, 2, m["event_types"].(map[string]any)["user_message"])
}

func TestStatistics_AddOnZeroValue(t *testing.T) {
	var stats Statistics
	stats.Add(EventUserMessage)
	assert.Equal(t, 1, stats.EventTypes["user_message"])
}

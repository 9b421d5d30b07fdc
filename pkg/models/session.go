// Package models contains domain models for chatrelay.
package models

import (
	"time"
)

// SessionStatus represents the lifecycle status of a conversational session.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusSummarized SessionStatus = "summarized"
)

// sessionStatusOrder is the only allowed progression of a session.
var sessionStatusOrder = map[SessionStatus]int{
	SessionStatusActive:     0,
	SessionStatusCompleted:  1,
	SessionStatusSummarized: 2,
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	_, ok := sessionStatusOrder[s]
	return ok
}

// CanTransitionTo reports whether a session in status s may move to next.
// Only single forward steps are allowed: active -> completed -> summarized.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	from, ok := sessionStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := sessionStatusOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

// Session is one connected conversation from open to close.
type Session struct {
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	DurationSeconds *int64        `json:"duration_seconds,omitempty"`
	Summary         *string       `json:"summary,omitempty"`
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	Status          SessionStatus `json:"status"`
}

// NewSession creates an active session starting at startTime.
func NewSession(sessionID, userID string, startTime time.Time) *Session {
	return &Session{
		SessionID: sessionID,
		UserID:    userID,
		StartTime: startTime.UTC(),
		Status:    SessionStatusActive,
	}
}

// Duration returns the recorded duration, or zero while the session is active.
func (s *Session) Duration() int64 {
	if s == nil || s.DurationSeconds == nil {
		return 0
	}
	return *s.DurationSeconds
}

// SummaryText returns the summary or an empty string when none has been stored.
func (s *Session) SummaryText() string {
	if s == nil || s.Summary == nil {
		return ""
	}
	return *s.Summary
}

// UserIDFromSessionID derives the user identifier used for anonymous connections:
// "user_" followed by the last six characters of the session id.
func UserIDFromSessionID(sessionID string) string {
	runes := []rune(sessionID)
	if len(runes) > 6 {
		runes = runes[len(runes)-6:]
	}
	return "user_" + string(runes)
}

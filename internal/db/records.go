// Package db defines the record store contract used by the session ledger.
// Implementations live in subpackages (see internal/db/gorm).
package db

import (
	"context"
	"errors"
	"time"

	"github.com/thebtf/chatrelay/pkg/models"
)

// ErrDuplicate is returned when an insert collides with an existing primary key.
var ErrDuplicate = errors.New("record already exists")

// SessionFilter selects session records. Empty fields do not filter.
type SessionFilter struct {
	SessionID string
	UserID    string
	// Statuses restricts matches to sessions currently in one of these statuses.
	Statuses []models.SessionStatus
}

// SessionPatch lists the fields to update. Nil fields are left untouched.
type SessionPatch struct {
	EndTime         *time.Time
	DurationSeconds *int64
	Summary         *string
	Status          *models.SessionStatus
}

// Empty reports whether the patch changes nothing.
func (p SessionPatch) Empty() bool {
	return p.EndTime == nil && p.DurationSeconds == nil && p.Summary == nil && p.Status == nil
}

// EventFilter selects event records.
type EventFilter struct {
	SessionID  string
	EventTypes []models.EventType
}

// Order is a single-column sort.
type Order struct {
	Field string
	Desc  bool
}

// Common orderings.
var (
	ByStartTimeDesc = Order{Field: "start_time", Desc: true}
	ByTimestampAsc  = Order{Field: "timestamp"}
)

// SessionRecords is the record store surface for the "sessions" kind.
type SessionRecords interface {
	InsertSession(ctx context.Context, session *models.Session) error
	// UpdateSessions applies patch to every matching record and returns the number updated.
	UpdateSessions(ctx context.Context, filter SessionFilter, patch SessionPatch) (int64, error)
	SelectSessions(ctx context.Context, filter SessionFilter, order Order, limit int) ([]*models.Session, error)
	DeleteSessions(ctx context.Context, filter SessionFilter) (int64, error)
}

// EventRecords is the record store surface for the "session_events" kind.
type EventRecords interface {
	InsertEvent(ctx context.Context, event *models.Event) error
	SelectEvents(ctx context.Context, filter EventFilter, order Order, limit int) ([]*models.Event, error)
	DeleteEvents(ctx context.Context, filter EventFilter) (int64, error)
}

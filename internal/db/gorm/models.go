package gorm

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GORM Models

// SessionRecord is a row of the sessions table.
type SessionRecord struct {
	SessionID       string `gorm:"primaryKey;type:varchar(255)"`
	UserID          string `gorm:"index;not null"`
	Status          string `gorm:"type:varchar(16);check:status IN ('active', 'completed', 'summarized');default:'active';index;not null"`
	StartTime       string `gorm:"not null"`
	StartTimeEpoch  int64  `gorm:"index:idx_sessions_start,sort:desc;not null"` // unix microseconds
	EndTime         sql.NullString
	EndTimeEpoch    sql.NullInt64
	DurationSeconds sql.NullInt64
	Summary         sql.NullString `gorm:"type:text"`
}

func (SessionRecord) TableName() string { return "sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if s.StartTimeEpoch == 0 {
		s.StartTimeEpoch = now.UnixMicro()
	}
	if s.StartTime == "" {
		s.StartTime = time.UnixMicro(s.StartTimeEpoch).UTC().Format(time.RFC3339Nano)
	}
	if s.Status == "" {
		s.Status = "active"
	}
	return nil
}

// EventRecord is a row of the session_events table.
// ID is a surrogate key; events have no natural identity.
type EventRecord struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)"`
	SessionID      string         `gorm:"index:idx_events_session_ts,priority:1;type:varchar(255);not null"`
	EventType      string         `gorm:"index;type:varchar(64);not null"`
	Timestamp      string         `gorm:"not null"`
	TimestampEpoch int64          `gorm:"index:idx_events_session_ts,priority:2;not null"` // unix microseconds
	Data           datatypes.JSON `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"not null"`
}

func (EventRecord) TableName() string { return "session_events" }

// BeforeCreate hook to ensure identifiers, timestamps and payloads are set.
func (e *EventRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TimestampEpoch == 0 {
		e.TimestampEpoch = time.Now().UTC().UnixMicro()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.UnixMicro(e.TimestampEpoch).UTC().Format(time.RFC3339Nano)
	}
	if len(e.Data) == 0 {
		e.Data = datatypes.JSON("{}")
	}
	if len(e.Metadata) == 0 {
		e.Metadata = datatypes.JSON("{}")
	}
	return nil
}

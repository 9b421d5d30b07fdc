package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/chatrelay/internal/db"
	"github.com/thebtf/chatrelay/pkg/models"
)

// SessionStore implements db.SessionRecords on top of GORM.
type SessionStore struct {
	db *gorm.DB
}

var _ db.SessionRecords = (*SessionStore)(nil)

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// InsertSession inserts a new session record.
func (s *SessionStore) InsertSession(ctx context.Context, session *models.Session) error {
	rec := fromModelSession(session)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// UpdateSessions applies patch to every session matching filter.
func (s *SessionStore) UpdateSessions(ctx context.Context, filter db.SessionFilter, patch db.SessionPatch) (int64, error) {
	if patch.Empty() {
		return 0, nil
	}

	updates := map[string]interface{}{}
	if patch.EndTime != nil {
		t := patch.EndTime.UTC()
		updates["end_time"] = t.Format(time.RFC3339Nano)
		updates["end_time_epoch"] = t.UnixMicro()
	}
	if patch.DurationSeconds != nil {
		updates["duration_seconds"] = *patch.DurationSeconds
	}
	if patch.Summary != nil {
		updates["summary"] = *patch.Summary
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}

	result := s.db.WithContext(ctx).
		Model(&SessionRecord{}).
		Scopes(sessionFilterScope(filter)).
		Updates(updates)
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

// SelectSessions returns sessions matching filter in the given order.
// A limit <= 0 means no limit.
func (s *SessionStore) SelectSessions(ctx context.Context, filter db.SessionFilter, order db.Order, limit int) ([]*models.Session, error) {
	orderBy, err := sessionOrderClause(order)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Scopes(sessionFilterScope(filter)).Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []SessionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, translateError(err)
	}
	return toModelSessions(records), nil
}

// DeleteSessions removes every session matching filter.
func (s *SessionStore) DeleteSessions(ctx context.Context, filter db.SessionFilter) (int64, error) {
	if filter.SessionID == "" && filter.UserID == "" {
		return 0, fmt.Errorf("refusing to delete sessions without a filter")
	}
	result := s.db.WithContext(ctx).Scopes(sessionFilterScope(filter)).Delete(&SessionRecord{})
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

func sessionFilterScope(filter db.SessionFilter) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if filter.SessionID != "" {
			tx = tx.Where("session_id = ?", filter.SessionID)
		}
		if filter.UserID != "" {
			tx = tx.Where("user_id = ?", filter.UserID)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, len(filter.Statuses))
			for i, st := range filter.Statuses {
				statuses[i] = string(st)
			}
			tx = tx.Where("status IN ?", statuses)
		}
		return tx
	}
}

func sessionOrderClause(order db.Order) (string, error) {
	var column string
	switch order.Field {
	case "", "start_time":
		column = "start_time_epoch"
	case "end_time":
		column = "end_time_epoch"
	case "duration_seconds":
		column = "duration_seconds"
	case "session_id":
		column = "session_id"
	default:
		return "", fmt.Errorf("unsupported session order field %q", order.Field)
	}
	if order.Desc {
		return column + " DESC", nil
	}
	return column + " ASC", nil
}

func fromModelSession(m *models.Session) *SessionRecord {
	start := m.StartTime.UTC()
	rec := &SessionRecord{
		SessionID:      m.SessionID,
		UserID:         m.UserID,
		Status:         string(m.Status),
		StartTime:      start.Format(time.RFC3339Nano),
		StartTimeEpoch: start.UnixMicro(),
	}
	if m.StartTime.IsZero() {
		rec.StartTime = ""
		rec.StartTimeEpoch = 0
	}
	if m.EndTime != nil {
		end := m.EndTime.UTC()
		rec.EndTime = sql.NullString{String: end.Format(time.RFC3339Nano), Valid: true}
		rec.EndTimeEpoch = sql.NullInt64{Int64: end.UnixMicro(), Valid: true}
	}
	if m.DurationSeconds != nil {
		rec.DurationSeconds = sql.NullInt64{Int64: *m.DurationSeconds, Valid: true}
	}
	if m.Summary != nil {
		rec.Summary = sql.NullString{String: *m.Summary, Valid: true}
	}
	return rec
}

// toModelSession converts a GORM SessionRecord to pkg/models.Session.
func toModelSession(r *SessionRecord) *models.Session {
	m := &models.Session{
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Status:    models.SessionStatus(r.Status),
		StartTime: time.UnixMicro(r.StartTimeEpoch).UTC(),
	}
	if r.EndTimeEpoch.Valid {
		end := time.UnixMicro(r.EndTimeEpoch.Int64).UTC()
		m.EndTime = &end
	}
	if r.DurationSeconds.Valid {
		d := r.DurationSeconds.Int64
		m.DurationSeconds = &d
	}
	if r.Summary.Valid {
		summary := r.Summary.String
		m.Summary = &summary
	}
	return m
}

func toModelSessions(records []SessionRecord) []*models.Session {
	result := make([]*models.Session, len(records))
	for i := range records {
		result[i] = toModelSession(&records[i])
	}
	return result
}

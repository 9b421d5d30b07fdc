package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/thebtf/chatrelay/internal/db"
	"github.com/thebtf/chatrelay/pkg/models"
)

// EventStore implements db.EventRecords on top of GORM.
type EventStore struct {
	db *gorm.DB
}

var _ db.EventRecords = (*EventStore)(nil)

// NewEventStore creates a new event store.
func NewEventStore(store *Store) *EventStore {
	return &EventStore{db: store.DB}
}

// InsertEvent appends one event. The event's ID and Timestamp are filled in
// when the caller left them empty.
func (s *EventStore) InsertEvent(ctx context.Context, event *models.Event) error {
	rec, err := fromModelEvent(event)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return translateError(err)
	}
	event.ID = rec.ID
	event.Timestamp = time.UnixMicro(rec.TimestampEpoch).UTC()
	return nil
}

// SelectEvents returns events matching filter in the given order.
// A limit <= 0 means no limit.
func (s *EventStore) SelectEvents(ctx context.Context, filter db.EventFilter, order db.Order, limit int) ([]*models.Event, error) {
	orderBy, err := eventOrderClause(order)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Scopes(eventFilterScope(filter)).Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, translateError(err)
	}
	return toModelEvents(records)
}

// DeleteEvents removes every event matching filter.
func (s *EventStore) DeleteEvents(ctx context.Context, filter db.EventFilter) (int64, error) {
	if filter.SessionID == "" {
		return 0, fmt.Errorf("refusing to delete events without a session filter")
	}
	result := s.db.WithContext(ctx).Scopes(eventFilterScope(filter)).Delete(&EventRecord{})
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

func eventFilterScope(filter db.EventFilter) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if filter.SessionID != "" {
			tx = tx.Where("session_id = ?", filter.SessionID)
		}
		if len(filter.EventTypes) > 0 {
			types := make([]string, len(filter.EventTypes))
			for i, t := range filter.EventTypes {
				types[i] = string(t)
			}
			tx = tx.Where("event_type IN ?", types)
		}
		return tx
	}
}

func eventOrderClause(order db.Order) (string, error) {
	switch order.Field {
	case "", "timestamp":
		if order.Desc {
			return "timestamp_epoch DESC", nil
		}
		return "timestamp_epoch ASC", nil
	case "event_type":
		if order.Desc {
			return "event_type DESC", nil
		}
		return "event_type ASC", nil
	default:
		return "", fmt.Errorf("unsupported event order field %q", order.Field)
	}
}

func fromModelEvent(m *models.Event) (*EventRecord, error) {
	data, err := marshalPayload(m.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	metadata, err := marshalPayload(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal event metadata: %w", err)
	}

	rec := &EventRecord{
		ID:        m.ID,
		SessionID: m.SessionID,
		EventType: string(m.EventType),
		Data:      data,
		Metadata:  metadata,
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp.UTC()
		rec.Timestamp = ts.Format(time.RFC3339Nano)
		rec.TimestampEpoch = ts.UnixMicro()
	}
	return rec, nil
}

// toModelEvent converts a GORM EventRecord to pkg/models.Event.
func toModelEvent(r *EventRecord) (*models.Event, error) {
	data, err := unmarshalPayload(r.Data)
	if err != nil {
		return nil, fmt.Errorf("decode event %s data: %w", r.ID, err)
	}
	metadata, err := unmarshalPayload(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("decode event %s metadata: %w", r.ID, err)
	}
	return &models.Event{
		ID:        r.ID,
		SessionID: r.SessionID,
		EventType: models.EventType(r.EventType),
		Timestamp: time.UnixMicro(r.TimestampEpoch).UTC(),
		Data:      data,
		Metadata:  metadata,
	}, nil
}

func toModelEvents(records []EventRecord) ([]*models.Event, error) {
	result := make([]*models.Event, 0, len(records))
	for i := range records {
		e, err := toModelEvent(&records[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func marshalPayload(payload map[string]any) (datatypes.JSON, error) {
	if len(payload) == 0 {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalPayload(raw datatypes.JSON) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

package gorm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/chatrelay/internal/db"
	"github.com/thebtf/chatrelay/pkg/models"
)

// RecordsSuite exercises the session and event repositories against SQLite.
type RecordsSuite struct {
	suite.Suite
	store    *Store
	cleanup  func()
	sessions *SessionStore
	events   *EventStore
	ctx      context.Context
}

func (s *RecordsSuite) SetupTest() {
	s.store, s.cleanup = testStore(s.T())
	s.sessions = s.store.Sessions()
	s.events = s.store.Events()
	s.ctx = context.Background()
}

func (s *RecordsSuite) TearDownTest() {
	s.cleanup()
}

func TestRecordsSuite(t *testing.T) {
	suite.Run(t, new(RecordsSuite))
}

func (s *RecordsSuite) insertSession(id, user string, start time.Time) {
	s.Require().NoError(s.sessions.InsertSession(s.ctx, models.NewSession(id, user, start)))
}

// getSession selects one session by id, or nil when there is none.
func (s *RecordsSuite) getSession(id string) *models.Session {
	got, err := s.sessions.SelectSessions(s.ctx, db.SessionFilter{SessionID: id}, db.Order{}, 1)
	s.Require().NoError(err)
	if len(got) == 0 {
		return nil
	}
	return got[0]
}

func (s *RecordsSuite) TestInsertAndSelectSession() {
	start := time.Date(2026, 5, 1, 12, 0, 0, 123456000, time.UTC)
	s.insertSession("sess-1", "user_sess-1", start)

	got := s.getSession("sess-1")
	s.Require().NotNil(got)
	s.Equal("sess-1", got.SessionID)
	s.Equal("user_sess-1", got.UserID)
	s.Equal(models.SessionStatusActive, got.Status)
	s.True(got.StartTime.Equal(start))
	s.Nil(got.EndTime)
	s.Nil(got.DurationSeconds)
	s.Nil(got.Summary)
}

func (s *RecordsSuite) TestSelectSessions_NotFound() {
	s.Nil(s.getSession("missing"))
}

func (s *RecordsSuite) TestInsertSession_Duplicate() {
	s.insertSession("dup", "u", time.Now())
	err := s.sessions.InsertSession(s.ctx, models.NewSession("dup", "u", time.Now()))
	s.Require().Error(err)
	s.True(errors.Is(err, db.ErrDuplicate))
}

func (s *RecordsSuite) TestUpdateSessions_StatusGuard() {
	s.insertSession("sess-2", "u", time.Now().Add(-time.Minute))

	end := time.Now()
	dur := int64(60)
	completed := models.SessionStatusCompleted
	patch := db.SessionPatch{EndTime: &end, DurationSeconds: &dur, Status: &completed}
	guard := db.SessionFilter{SessionID: "sess-2", Statuses: []models.SessionStatus{models.SessionStatusActive}}

	n, err := s.sessions.UpdateSessions(s.ctx, guard, patch)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	// Second update no longer matches the guard.
	n, err = s.sessions.UpdateSessions(s.ctx, guard, patch)
	s.Require().NoError(err)
	s.Equal(int64(0), n)

	got := s.getSession("sess-2")
	s.Require().NotNil(got)
	s.Equal(models.SessionStatusCompleted, got.Status)
	s.Require().NotNil(got.DurationSeconds)
	s.Equal(int64(60), *got.DurationSeconds)
	s.Require().NotNil(got.EndTime)
	s.Equal(end.UTC().UnixMicro(), got.EndTime.UnixMicro())
}

func (s *RecordsSuite) TestUpdateSessions_EmptyPatch() {
	n, err := s.sessions.UpdateSessions(s.ctx, db.SessionFilter{SessionID: "x"}, db.SessionPatch{})
	s.NoError(err)
	s.Equal(int64(0), n)
}

func (s *RecordsSuite) TestSelectSessions_OrderAndLimit() {
	base := time.Now().Add(-time.Hour)
	s.insertSession("a", "alice", base)
	s.insertSession("b", "alice", base.Add(10*time.Minute))
	s.insertSession("c", "alice", base.Add(20*time.Minute))
	s.insertSession("d", "bob", base.Add(30*time.Minute))

	got, err := s.sessions.SelectSessions(s.ctx, db.SessionFilter{UserID: "alice"}, db.ByStartTimeDesc, 2)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("c", got[0].SessionID)
	s.Equal("b", got[1].SessionID)

	all, err := s.sessions.SelectSessions(s.ctx, db.SessionFilter{}, db.Order{Field: "start_time"}, 0)
	s.Require().NoError(err)
	s.Len(all, 4)
	s.Equal("a", all[0].SessionID)

	_, err = s.sessions.SelectSessions(s.ctx, db.SessionFilter{}, db.Order{Field: "bogus"}, 0)
	s.Error(err)
}

func (s *RecordsSuite) TestDeleteSessions() {
	s.insertSession("del", "u", time.Now())

	n, err := s.sessions.DeleteSessions(s.ctx, db.SessionFilter{SessionID: "del"})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	_, err = s.sessions.DeleteSessions(s.ctx, db.SessionFilter{})
	s.Error(err)
}

func (s *RecordsSuite) TestEvents_InsertSelectDelete() {
	s.insertSession("ev", "u", time.Now())
	base := time.Now().Add(-time.Minute)

	// Inserted out of order on purpose.
	inputs := []*models.Event{
		{SessionID: "ev", EventType: models.EventAssistantResponse, Timestamp: base.Add(2 * time.Second), Data: map[string]any{"content": "hello back"}},
		{SessionID: "ev", EventType: models.EventUserMessage, Timestamp: base.Add(1 * time.Second), Data: map[string]any{"content": "hello"}},
		{SessionID: "ev", EventType: models.EventSessionStart, Timestamp: base, Data: map[string]any{"user_id": "u"}, Metadata: map[string]any{"source": "test"}},
	}
	for _, e := range inputs {
		s.Require().NoError(s.events.InsertEvent(s.ctx, e))
		s.NotEmpty(e.ID)
	}

	got, err := s.events.SelectEvents(s.ctx, db.EventFilter{SessionID: "ev"}, db.ByTimestampAsc, 0)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal(models.EventSessionStart, got[0].EventType)
	s.Equal(models.EventUserMessage, got[1].EventType)
	s.Equal(models.EventAssistantResponse, got[2].EventType)
	s.Equal("hello", got[1].Content())
	s.Equal("test", got[0].Metadata["source"])
	s.Empty(got[1].Metadata)

	filtered, err := s.events.SelectEvents(s.ctx, db.EventFilter{
		SessionID:  "ev",
		EventTypes: []models.EventType{models.EventUserMessage},
	}, db.ByTimestampAsc, 0)
	s.Require().NoError(err)
	s.Len(filtered, 1)

	n, err := s.events.DeleteEvents(s.ctx, db.EventFilter{SessionID: "ev"})
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	_, err = s.events.DeleteEvents(s.ctx, db.EventFilter{})
	s.Error(err)
}

func (s *RecordsSuite) TestInsertEvent_DefaultsTimestamp() {
	e := &models.Event{SessionID: "ts", EventType: models.EventSessionEnd}
	before := time.Now().Add(-time.Second)
	s.Require().NoError(s.events.InsertEvent(s.ctx, e))
	s.True(e.Timestamp.After(before))
	s.NotEmpty(e.ID)
}

func (s *RecordsSuite) TestInsertEvent_NestedPayload() {
	e := &models.Event{
		SessionID: "nested",
		EventType: models.EventPostProcessingComplete,
		Data: map[string]any{
			"summary_generated": true,
			"statistics":        map[string]any{"total_events": 3},
		},
	}
	s.Require().NoError(s.events.InsertEvent(s.ctx, e))

	got, err := s.events.SelectEvents(s.ctx, db.EventFilter{SessionID: "nested"}, db.ByTimestampAsc, 1)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(true, got[0].Data["summary_generated"])
	stats, ok := got[0].Data["statistics"].(map[string]any)
	s.Require().True(ok)
	s.EqualValues(3, stats["total_events"])
}

package postproc

import (
	"strings"
	"time"

	"github.com/thebtf/chatrelay/internal/db/dbtest"
	"github.com/thebtf/chatrelay/pkg/models"
)

func (s *ProcessorSuite) TestAnalyzePatternsNoSessions() {
	got := AnalyzePatterns(s.ctx, s.ledger, "nobody", 0)
	s.Equal("No sessions found for user", got.Error)
	s.Zero(got.SessionsAnalyzed)
}

func (s *ProcessorSuite) TestAnalyzePatterns() {
	for _, id := range []string{"sess-a1", "sess-a2", "sess-a3"} {
		_, err := s.ledger.CreateSession(s.ctx, id, "user_42")
		s.Require().NoError(err)
		s.clock.Advance(time.Second)
		_, err = s.ledger.LogEvent(s.ctx, id, models.EventUserMessage, map[string]any{"content": "hi"}, nil)
		s.Require().NoError(err)
		_, err = s.ledger.LogEvent(s.ctx, id, models.EventAssistantResponse, map[string]any{"content": "hello"}, nil)
		s.Require().NoError(err)
		_, err = s.ledger.LogEvent(s.ctx, id, models.EventFunctionCall, map[string]any{"function_name": "get_weather"}, nil)
		s.Require().NoError(err)
		s.clock.Advance(9 * time.Second)
		_, err = s.ledger.EndSession(s.ctx, id)
		s.Require().NoError(err)
	}

	got := AnalyzePatterns(s.ctx, s.ledger, "user_42", 2)
	s.Empty(got.Error)
	s.Equal("user_42", got.UserID)
	s.Equal(2, got.SessionsAnalyzed)
	s.Equal(int64(20), got.TotalDurationSeconds)
	s.InDelta(10.0, got.AverageDurationSeconds, 0.001)
	s.InDelta(1.0, got.AverageUserMessages, 0.001)
	s.InDelta(1.0, got.AverageAssistantResponses, 0.001)
	s.Equal(2, got.TotalFunctionCalls)
	s.Equal("sess-a3", got.MostRecentSession)

	all := AnalyzePatterns(s.ctx, s.ledger, "user_42", 0)
	s.Equal(3, all.SessionsAnalyzed)
}

func (s *ProcessorSuite) TestAnalyzePatternsStoreFailure() {
	s.store.FailOn(dbtest.OpSelectSessions)
	got := AnalyzePatterns(s.ctx, s.ledger, "user_42", 5)
	s.Equal("No sessions found for user", got.Error)
}

func (s *ProcessorSuite) TestGenerateInsights() {
	_, err := s.ledger.CreateSession(s.ctx, "sess-in", "user_ess-in")
	s.Require().NoError(err)

	log := func(t models.EventType, data map[string]any, after time.Duration) {
		s.clock.Advance(after)
		_, err := s.ledger.LogEvent(s.ctx, "sess-in", t, data, nil)
		s.Require().NoError(err)
	}
	long := strings.Repeat("x", 60)
	log(models.EventSessionStart, map[string]any{"user_id": "user_ess-in"}, 0)
	log(models.EventUserMessage, map[string]any{"content": "weather please"}, time.Second)
	log(models.EventFunctionCall, map[string]any{"function_name": "get_weather"}, time.Second)
	log(models.EventFunctionResult, map[string]any{"function_name": "get_weather"}, time.Second)
	log(models.EventAssistantResponse, map[string]any{"content": "sunny"}, time.Second)
	log(models.EventUserMessage, map[string]any{"content": long}, time.Second)
	log(models.EventAssistantResponse, map[string]any{"content": long}, 4*time.Second)

	got := GenerateInsights(s.ctx, s.ledger, "sess-in")
	s.Empty(got.Error)
	s.Equal("No summary available", got.SessionSummary)
	s.Equal(7, got.Statistics.TotalEvents)
	s.Equal(2, got.Engagement.TotalInteractions)
	s.Equal(1, got.Engagement.ToolsUtilized)
	// Only the second exchange is an adjacent user/assistant pair.
	s.InDelta(4.0, got.Engagement.AverageResponseTimeSeconds, 0.001)

	s.Require().Len(got.Timeline, 7)
	s.Equal("Event: session_start", got.Timeline[0].Summary)
	s.Equal("User: weather please", got.Timeline[1].Summary)
	s.Equal("Called function: get_weather", got.Timeline[2].Summary)
	s.Equal("Function get_weather completed", got.Timeline[3].Summary)
	s.Equal("Assistant: sunny", got.Timeline[4].Summary)
	s.Equal("User: "+strings.Repeat("x", 50)+"...", got.Timeline[5].Summary)
}

func (s *ProcessorSuite) TestGenerateInsightsNoPairs() {
	s.closedSession("sess-quiet")
	s.Require().NoError(s.processor.Process(s.ctx, "sess-quiet"))

	got := GenerateInsights(s.ctx, s.ledger, "sess-quiet")
	s.Zero(got.Engagement.AverageResponseTimeSeconds)
	s.Equal(NoConversationSummary, got.SessionSummary)
}

func (s *ProcessorSuite) TestGenerateInsightsMissingSession() {
	got := GenerateInsights(s.ctx, s.ledger, "ghost")
	s.Equal("Session not found", got.Error)
}

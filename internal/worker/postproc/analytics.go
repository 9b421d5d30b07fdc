package postproc

import (
	"context"
	"fmt"

	"github.com/thebtf/chatrelay/internal/ledger"
	"github.com/thebtf/chatrelay/pkg/models"
)

// DefaultPatternLimit is the number of recent sessions AnalyzePatterns reads.
const DefaultPatternLimit = 5

const timelineContentLimit = 50

// AnalyzePatterns aggregates the user's most recent sessions.
func AnalyzePatterns(ctx context.Context, l *ledger.Ledger, userID string, limit int) models.PatternAnalysis {
	if limit <= 0 {
		limit = DefaultPatternLimit
	}

	sessions := l.GetRecentSessions(ctx, userID, limit)
	if len(sessions) == 0 {
		return models.PatternAnalysis{UserID: userID, Error: "No sessions found for user"}
	}

	var (
		totalDuration      int64
		userMessages       int
		assistantResponses int
		functionCalls      int
	)
	for _, sess := range sessions {
		totalDuration += sess.Duration()
		stats := l.GetStatistics(ctx, sess.SessionID)
		userMessages += stats.UserMessages
		assistantResponses += stats.AssistantResponses
		functionCalls += stats.FunctionCalls
	}

	n := float64(len(sessions))
	return models.PatternAnalysis{
		UserID:                    userID,
		SessionsAnalyzed:          len(sessions),
		TotalDurationSeconds:      totalDuration,
		AverageDurationSeconds:    float64(totalDuration) / n,
		AverageUserMessages:       float64(userMessages) / n,
		AverageAssistantResponses: float64(assistantResponses) / n,
		TotalFunctionCalls:        functionCalls,
		MostRecentSession:         sessions[0].SessionID,
	}
}

// GenerateInsights builds a timeline and engagement report for one session.
func GenerateInsights(ctx context.Context, l *ledger.Ledger, sessionID string) models.SessionInsights {
	session, err := l.GetSession(ctx, sessionID)
	if err != nil {
		return models.SessionInsights{SessionID: sessionID, Error: err.Error()}
	}
	if session == nil {
		return models.SessionInsights{SessionID: sessionID, Error: "Session not found"}
	}

	events := l.GetEvents(ctx, sessionID)
	stats := models.NewStatistics()
	timeline := make([]models.TimelineEntry, 0, len(events))
	for _, e := range events {
		stats.Add(e.EventType)
		timeline = append(timeline, models.TimelineEntry{
			Timestamp: e.Timestamp,
			EventType: e.EventType,
			Summary:   summarizeEvent(e),
		})
	}

	summary := "No summary available"
	if session.Summary != nil {
		summary = *session.Summary
	}

	return models.SessionInsights{
		SessionID:      sessionID,
		SessionSummary: summary,
		Statistics:     stats,
		Timeline:       timeline,
		Engagement: models.EngagementMetrics{
			AverageResponseTimeSeconds: averageResponseTime(events),
			TotalInteractions:          stats.UserMessages,
			ToolsUtilized:              stats.FunctionCalls,
		},
	}
}

// averageResponseTime averages the gap between each user message and an
// assistant response that immediately follows it in the log.
func averageResponseTime(events []*models.Event) float64 {
	var (
		total float64
		pairs int
	)
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if prev.EventType == models.EventUserMessage && cur.EventType == models.EventAssistantResponse {
			total += cur.Timestamp.Sub(prev.Timestamp).Seconds()
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

func summarizeEvent(e *models.Event) string {
	switch e.EventType {
	case models.EventUserMessage:
		return "User: " + truncate(e.Content(), timelineContentLimit)
	case models.EventAssistantResponse:
		return "Assistant: " + truncate(e.Content(), timelineContentLimit)
	case models.EventFunctionCall:
		return fmt.Sprintf("Called function: %s", e.FunctionName())
	case models.EventFunctionResult:
		return fmt.Sprintf("Function %s completed", e.FunctionName())
	default:
		return fmt.Sprintf("Event: %s", e.EventType)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

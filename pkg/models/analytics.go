package models

import (
	"time"
)

// PatternAnalysis aggregates a user's recent sessions.
// Error is set instead of the aggregates when nothing could be analyzed.
type PatternAnalysis struct {
	UserID                    string  `json:"user_id"`
	MostRecentSession         string  `json:"most_recent_session,omitempty"`
	Error                     string  `json:"error,omitempty"`
	SessionsAnalyzed          int     `json:"sessions_analyzed"`
	TotalDurationSeconds      int64   `json:"total_duration_seconds"`
	AverageDurationSeconds    float64 `json:"average_duration_seconds"`
	AverageUserMessages       float64 `json:"average_user_messages"`
	AverageAssistantResponses float64 `json:"average_assistant_responses"`
	TotalFunctionCalls        int     `json:"total_function_calls"`
}

// TimelineEntry is a one-line description of a single event.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Summary   string    `json:"summary"`
}

// EngagementMetrics describes how a session was used.
type EngagementMetrics struct {
	AverageResponseTimeSeconds float64 `json:"average_response_time_seconds"`
	TotalInteractions          int     `json:"total_interactions"`
	ToolsUtilized              int     `json:"tools_utilized"`
}

// SessionInsights is a detailed report over one session's event log.
type SessionInsights struct {
	Statistics     Statistics        `json:"statistics"`
	SessionID      string            `json:"session_id"`
	SessionSummary string            `json:"session_summary"`
	Error          string            `json:"error,omitempty"`
	Timeline       []TimelineEntry   `json:"timeline"`
	Engagement     EngagementMetrics `json:"engagement_metrics"`
}

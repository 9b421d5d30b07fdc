package models

import (
	"time"
)

// EventType classifies an entry in a session's event log.
// The set is open; these are the types the relay and processor write.
type EventType string

const (
	EventSessionStart           EventType = "session_start"
	EventUserMessage            EventType = "user_message"
	EventAssistantResponse      EventType = "assistant_response"
	EventFunctionCall           EventType = "function_call"
	EventFunctionResult         EventType = "function_result"
	EventSessionEnd             EventType = "session_end"
	EventPostProcessingComplete EventType = "post_processing_complete"
	EventPostProcessingError    EventType = "post_processing_error"
)

// ConversationEventTypes are the event types that make up the visible conversation.
var ConversationEventTypes = []EventType{EventUserMessage, EventAssistantResponse}

// Event is an immutable, timestamped log entry scoped to one session.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id"`
	EventType EventType      `json:"event_type"`
}

// IsZero reports whether e is the empty sentinel returned when logging failed.
func (e Event) IsZero() bool {
	return e.SessionID == "" && e.EventType == "" && e.Timestamp.IsZero()
}

// Content returns the "content" string from the event data, if present.
func (e Event) Content() string {
	return e.stringField("content")
}

// FunctionName returns the "function_name" string from the event data, or "unknown".
func (e Event) FunctionName() string {
	if name := e.stringField("function_name"); name != "" {
		return name
	}
	return "unknown"
}

func (e Event) stringField(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// Role is the speaker of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation, either reconstructed from the event
// log or held in a relay's in-memory buffer.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
}

// Statistics aggregates a session's event log.
type Statistics struct {
	EventTypes         map[string]int `json:"event_types"`
	TotalEvents        int            `json:"total_events"`
	UserMessages       int            `json:"user_messages"`
	AssistantResponses int            `json:"assistant_responses"`
	FunctionCalls      int            `json:"function_calls"`
}

// NewStatistics returns a zeroed Statistics value.
func NewStatistics() Statistics {
	return Statistics{EventTypes: map[string]int{}}
}

// Add counts one event.
func (s *Statistics) Add(eventType EventType) {
	if s.EventTypes == nil {
		s.EventTypes = map[string]int{}
	}
	s.TotalEvents++
	s.EventTypes[string(eventType)]++
	switch eventType {
	case EventUserMessage:
		s.UserMessages++
	case EventAssistantResponse:
		s.AssistantResponses++
	case EventFunctionCall:
		s.FunctionCalls++
	}
}

// AsMap renders the statistics as an event payload.
func (s Statistics) AsMap() map[string]any {
	types := make(map[string]any, len(s.EventTypes))
	for k, v := range s.EventTypes {
		types[k] = v
	}
	return map[string]any{
		"total_events":        s.TotalEvents,
		"user_messages":       s.UserMessages,
		"assistant_responses": s.AssistantResponses,
		"function_calls":      s.FunctionCalls,
		"event_types":         types,
	}
}

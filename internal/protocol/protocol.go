// Package protocol defines the JSON frames exchanged with relay clients.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Frame types.
const (
	TypeUserMessage      = "user_message"
	TypeSessionStart     = "session_start"
	TypeFunctionResult   = "function_result"
	TypeToken            = "token"
	TypeResponseComplete = "response_complete"
	TypeError            = "error"
)

// ErrProtocol matches any *ProtocolError.
var ErrProtocol = errors.New("malformed inbound frame")

// ProtocolError reports an inbound frame that could not be decoded.
type ProtocolError struct {
	Err    error
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Inbound is a client frame. Only user_message is acted on.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// IsUserMessage reports whether the frame carries user text.
func (f Inbound) IsUserMessage() bool { return f.Type == TypeUserMessage }

// rawInbound accepts any content shape so a non-string content is reported
// as a protocol error instead of a generic decode failure.
type rawInbound struct {
	Type    *string         `json:"type"`
	Content json.RawMessage `json:"content"`
}

// DecodeInbound parses a client frame. A frame with an unknown type decodes
// successfully.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, &ProtocolError{Reason: "invalid json", Err: err}
	}
	if raw.Type == nil || *raw.Type == "" {
		return Inbound{}, &ProtocolError{Reason: "missing type"}
	}

	frame := Inbound{Type: *raw.Type}
	if len(raw.Content) > 0 && string(raw.Content) != "null" {
		if err := json.Unmarshal(raw.Content, &frame.Content); err != nil {
			if frame.IsUserMessage() {
				return Inbound{}, &ProtocolError{Reason: "content must be a string", Err: err}
			}
		}
	}
	return frame, nil
}

// SessionStart acknowledges a new session.
type SessionStart struct {
	StartTime time.Time `json:"start_time"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
}

// FunctionResult reports a tool invocation made on the user's behalf.
type FunctionResult struct {
	Result       map[string]any `json:"result"`
	Type         string         `json:"type"`
	FunctionName string         `json:"function_name"`
}

// Token carries one generated fragment.
type Token struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ResponseComplete marks the end of one assistant reply.
type ResponseComplete struct {
	Type string `json:"type"`
}

// Error tells the client the session is being torn down.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewSessionStart builds a session_start frame.
func NewSessionStart(sessionID string, start time.Time) SessionStart {
	return SessionStart{Type: TypeSessionStart, SessionID: sessionID, StartTime: start}
}

// NewFunctionResult builds a function_result frame.
func NewFunctionResult(name string, result map[string]any) FunctionResult {
	return FunctionResult{Type: TypeFunctionResult, FunctionName: name, Result: result}
}

// NewToken builds a token frame.
func NewToken(content string) Token {
	return Token{Type: TypeToken, Content: content}
}

// NewResponseComplete builds a response_complete frame.
func NewResponseComplete() ResponseComplete {
	return ResponseComplete{Type: TypeResponseComplete}
}

// NewError builds an error frame.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// Encode marshals an outbound frame.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}

package types

import (
	"encoding/json"
	"time"
)

// EventType is the discriminator of a stream frame.
type EventType string

// Frame types emitted by the chat backend.
const (
	EventTypeToken      EventType = "token"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolResult EventType = "tool_result"
	EventTypeInterrupt  EventType = "interrupt"
	EventTypeMeta       EventType = "meta"
	EventTypeError      EventType = "error"
	EventTypeDone       EventType = "done"
)

// IsTerminal returns true if a frame of this type ends the run.
func (e EventType) IsTerminal() bool {
	return e == EventTypeInterrupt || e == EventTypeError
}

// Phase is the value of a meta frame's phase field.
type Phase string

// Meta phases.
const (
	PhaseStart     Phase = "start"
	PhaseComplete  Phase = "complete"
	PhaseInterrupt Phase = "interrupt"
)

// CapturesCheckpoint reports whether a meta frame in this phase carries the
// checkpoint the run resumes from.
func (p Phase) CapturesCheckpoint() bool {
	return p == PhaseComplete || p == PhaseInterrupt
}

// Event is one decoded stream frame. Fields irrelevant to Type are zero.
type Event struct {
	Type EventType `json:"type"`

	// Content is the token text for token frames and the tool output for
	// tool_result frames. Tool output may be any JSON value.
	Content json.RawMessage `json:"content,omitempty"`

	// ID identifies a tool call (tool_call, and tool_result as a fallback).
	ID string `json:"id,omitempty"`
	// ToolCallID identifies the call a tool_result belongs to.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	Payload *InterruptPayload `json:"payload,omitempty"`

	Phase        Phase   `json:"phase,omitempty"`
	ThreadID     string  `json:"thread_id,omitempty"`
	CheckpointID *string `json:"checkpoint_id,omitempty"`

	Error string `json:"error,omitempty"`
}

// Text returns the content of a token frame. Non-string content is
// returned in its raw JSON form.
func (e *Event) Text() string {
	if len(e.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Content, &s); err == nil {
		return s
	}
	return string(e.Content)
}

// ResultCallID returns the tool-call id a tool_result frame refers to.
func (e *Event) ResultCallID() string {
	if e.ToolCallID != "" {
		return e.ToolCallID
	}
	return e.ID
}

// Checkpoint returns the checkpoint carried by a meta frame, or "".
func (e *Event) Checkpoint() string {
	if e.CheckpointID == nil {
		return ""
	}
	return *e.CheckpointID
}

// InterruptPayload lists the tool calls awaiting a human decision.
type InterruptPayload struct {
	Type      string            `json:"type"`
	ToolCalls []PendingToolCall `json:"tool_calls"`
}

// PendingToolCall is a tool invocation suspended for approval.
type PendingToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// EventEnvelope is a decoded frame stamped with the identity of the run that
// received it. It is the unit written to the frame journal.
type EventEnvelope struct {
	// RunID is the client-side run identifier.
	RunID string `json:"run_id"`
	// ThreadID is the conversation the run belongs to.
	ThreadID string `json:"thread_id"`
	// MessageID is the assistant message being produced.
	MessageID string `json:"message_id"`
	// Seq is the monotonic frame number within the run, starts at 1.
	Seq int64 `json:"seq"`
	// Ts is the receive time.
	Ts time.Time `json:"ts"`
	// Event is the decoded frame.
	Event Event `json:"event"`
}

// Type returns the frame type of the wrapped event.
func (e *EventEnvelope) Type() EventType {
	return e.Event.Type
}

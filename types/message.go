package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// PartType discriminates message parts.
type PartType string

// Part types.
const (
	PartTypeText     PartType = "text"
	PartTypeToolCall PartType = "tool-call"
)

// Part is one fragment of a message: a text run or a tool invocation.
type Part struct {
	Type PartType `json:"type" msgpack:"type"`

	// Text is set on text parts.
	Text string `json:"text,omitempty" msgpack:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty" msgpack:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty" msgpack:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty" msgpack:"args,omitempty"`
	// ArgsText is Args pretty-printed for display.
	ArgsText string          `json:"argsText,omitempty" msgpack:"argsText,omitempty"`
	Result   json.RawMessage `json:"result,omitempty" msgpack:"result,omitempty"`
	IsError  bool            `json:"isError,omitempty" msgpack:"isError,omitempty"`
}

// HasResult reports whether a tool-call part has received its result.
func (p Part) HasResult() bool {
	return len(p.Result) > 0
}

// TextPart returns a text part.
func TextPart(s string) Part {
	return Part{Type: PartTypeText, Text: s}
}

// ClonePart returns a copy of p that shares no byte slices with it.
func ClonePart(p Part) Part {
	p.Args = bytes.Clone(p.Args)
	p.Result = bytes.Clone(p.Result)
	return p
}

// CloneParts returns a deep copy of parts.
func CloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = ClonePart(p)
	}
	return out
}

// PrettyArgs renders tool-call arguments with two-space indentation.
// Empty input renders as "{}". Input that is not valid JSON is returned
// unchanged.
func PrettyArgs(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// NormalizeArgs returns raw, or an empty JSON object when raw is empty.
func NormalizeArgs(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	return bytes.Clone(raw)
}

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one node of the conversation tree.
type Message struct {
	ID        string           `json:"id" msgpack:"id"`
	Role      Role             `json:"role" msgpack:"role"`
	Content   []Part           `json:"content" msgpack:"content"`
	Status    *RunStatus       `json:"status,omitempty" msgpack:"status,omitempty"`
	Metadata  *MessageMetadata `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt,omitzero" msgpack:"createdAt"`
}

// Checkpoint returns the checkpoint stored in the message metadata, or "".
func (m *Message) Checkpoint() string {
	if m == nil || m.Metadata == nil || m.Metadata.Custom.LG == nil {
		return ""
	}
	return m.Metadata.Custom.LG.CheckpointID
}

// PlainText joins the message's text parts.
func (m *Message) PlainText() string {
	var b bytes.Buffer
	for _, p := range m.Content {
		if p.Type == PartTypeText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	m.Content = CloneParts(m.Content)
	if m.Status != nil {
		s := *m.Status
		m.Status = &s
	}
	if m.Metadata != nil {
		md := m.Metadata.Clone()
		m.Metadata = &md
	}
	return m
}

// MessageMetadata is the metadata envelope attached to messages.
type MessageMetadata struct {
	Custom CustomMetadata `json:"custom" msgpack:"custom"`
}

// CustomMetadata holds application-defined metadata.
type CustomMetadata struct {
	LG *Lineage `json:"lg,omitempty" msgpack:"lg,omitempty"`
}

// Lineage ties a message to the backend agent state it was produced at.
type Lineage struct {
	ThreadID     string `json:"thread_id" msgpack:"thread_id"`
	CheckpointID string `json:"checkpoint_id" msgpack:"checkpoint_id"`
}

// Clone returns a deep copy of the metadata.
func (md MessageMetadata) Clone() MessageMetadata {
	if md.Custom.LG != nil {
		lg := *md.Custom.LG
		md.Custom.LG = &lg
	}
	return md
}

// CheckpointMetadata builds the metadata recording a checkpoint.
func CheckpointMetadata(threadID, checkpointID string) *MessageMetadata {
	return &MessageMetadata{Custom: CustomMetadata{LG: &Lineage{
		ThreadID:     threadID,
		CheckpointID: checkpointID,
	}}}
}

// ExportedRepo is the serialized conversation tree exchanged with the
// backend's repo endpoint.
type ExportedRepo struct {
	HeadID   *string           `json:"headId,omitempty" msgpack:"headId,omitempty"`
	Messages []ExportedMessage `json:"messages" msgpack:"messages"`
}

// ExportedMessage is a message together with its parent link.
type ExportedMessage struct {
	Message  Message `json:"message" msgpack:"message"`
	ParentID *string `json:"parentId" msgpack:"parentId"`
}

// Parent returns the parent id, or "" for a root message.
func (e ExportedMessage) Parent() string {
	if e.ParentID == nil {
		return ""
	}
	return *e.ParentID
}

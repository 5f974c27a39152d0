package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPrettyArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "{}"},
		{"object", `{"prompt":"cat"}`, "{\n  \"prompt\": \"cat\"\n}"},
		{"invalid passthrough", `{nope`, `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrettyArgs(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("PrettyArgs(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMessage_Checkpoint(t *testing.T) {
	var nilMsg *Message
	if nilMsg.Checkpoint() != "" {
		t.Error("nil message should have no checkpoint")
	}
	m := &Message{ID: "a1", Role: RoleAssistant, Metadata: CheckpointMetadata("t", "cp1")}
	if got := m.Checkpoint(); got != "cp1" {
		t.Errorf("Checkpoint() = %q, want cp1", got)
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	m := Message{
		ID:       "a1",
		Content:  []Part{{Type: PartTypeToolCall, ToolCallID: "t1", Args: json.RawMessage(`{"a":1}`)}},
		Metadata: CheckpointMetadata("t", "cp1"),
	}
	c := m.Clone()
	c.Content[0].Args[2] = 'b'
	c.Metadata.Custom.LG.CheckpointID = "cp2"

	if string(m.Content[0].Args) != `{"a":1}` {
		t.Errorf("original args mutated: %s", m.Content[0].Args)
	}
	if m.Checkpoint() != "cp1" {
		t.Errorf("original checkpoint mutated: %s", m.Checkpoint())
	}
}

func TestDecision_ApprovedEmptyArgumentsEncoded(t *testing.T) {
	b, err := json.Marshal(Decision{ID: "t1", Decision: DecisionApproved, Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"arguments":{}`) {
		t.Errorf("approved decision should carry arguments, got %s", b)
	}

	b, err = json.Marshal(Decision{ID: "t1", Decision: DecisionRejected})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "arguments") {
		t.Errorf("rejected decision should omit arguments, got %s", b)
	}
}

func TestExportedRepo_JSONShape(t *testing.T) {
	head := "a1"
	parent := "u1"
	repo := ExportedRepo{
		HeadID: &head,
		Messages: []ExportedMessage{
			{Message: Message{ID: "u1", Role: RoleUser, Content: []Part{TextPart("hi")}}},
			{Message: Message{ID: "a1", Role: RoleAssistant, Metadata: CheckpointMetadata("t", "cp1")}, ParentID: &parent},
		},
	}
	b, err := json.Marshal(repo)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"headId":"a1"`, `"parentId":null`, `"parentId":"u1"`, `"custom":{"lg":{"thread_id":"t","checkpoint_id":"cp1"}}`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded repo missing %s: %s", want, s)
		}
	}
}

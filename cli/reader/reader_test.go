package reader

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/waypoint/hitl"
	"github.com/pithecene-io/waypoint/lode"
	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/types"
)

func strPtr(s string) *string { return &s }

// branchedRepo has u1 with two assistant replies; the second is the head.
func branchedRepo() types.ExportedRepo {
	complete := types.StatusComplete
	interrupted := types.StatusRequiresAction
	return types.ExportedRepo{
		HeadID: strPtr("a2"),
		Messages: []types.ExportedMessage{
			{Message: types.Message{ID: "u1", Role: types.RoleUser, Content: []types.Part{types.TextPart("draw a cat")}}},
			{ParentID: strPtr("u1"), Message: types.Message{
				ID: "a1", Role: types.RoleAssistant, Status: &complete,
				Content:  []types.Part{types.TextPart("here")},
				Metadata: types.CheckpointMetadata("t1", "cp1"),
			}},
			{ParentID: strPtr("u1"), Message: types.Message{
				ID: "a2", Role: types.RoleAssistant, Status: &interrupted,
				Content: []types.Part{
					types.TextPart("let me draw"),
					{Type: types.PartTypeToolCall, ToolCallID: "c1", ToolName: "generate_image", Args: json.RawMessage(`{}`)},
				},
				Metadata: types.CheckpointMetadata("t1", "cp2"),
			}},
		},
	}
}

func TestThreadFromRepo(t *testing.T) {
	view, err := ThreadFromRepo("t1", branchedRepo())
	if err != nil {
		t.Fatalf("ThreadFromRepo: %v", err)
	}

	if view.HeadID != "a2" || view.Messages != 3 || view.Branches != 2 {
		t.Errorf("view = head %q, %d messages, %d branches", view.HeadID, view.Messages, view.Branches)
	}
	if len(view.Path) != 2 {
		t.Fatalf("path has %d rows, want 2", len(view.Path))
	}

	user, asst := view.Path[0], view.Path[1]
	if user.ID != "u1" || user.ParentID != "" || user.Sibling != "" {
		t.Errorf("user row = %+v", user)
	}
	if asst.ParentID != "u1" || asst.Sibling != "2/2" {
		t.Errorf("assistant row parent=%q sibling=%q", asst.ParentID, asst.Sibling)
	}
	if asst.Status != "requires-action/interrupt" || asst.Checkpoint != "cp2" {
		t.Errorf("assistant status=%q checkpoint=%q", asst.Status, asst.Checkpoint)
	}
	if asst.Text != "let me draw" {
		t.Errorf("assistant text = %q", asst.Text)
	}
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0] != "generate_image(c1)" {
		t.Errorf("tool calls = %v", asst.ToolCalls)
	}
}

func TestThreadFromRepo_Empty(t *testing.T) {
	view, err := ThreadFromRepo("t1", types.ExportedRepo{})
	if err != nil {
		t.Fatalf("ThreadFromRepo: %v", err)
	}
	if view.Path == nil || len(view.Path) != 0 || view.Branches != 0 {
		t.Errorf("empty view = %+v", view)
	}
}

func TestThreadFromRepo_BrokenRepo(t *testing.T) {
	repo := types.ExportedRepo{Messages: []types.ExportedMessage{
		{ParentID: strPtr("missing"), Message: types.Message{ID: "a1", Role: types.RoleAssistant}},
	}}
	if _, err := ThreadFromRepo("t1", repo); err == nil {
		t.Fatal("expected error for dangling parent")
	}
}

func TestInterruptFromView(t *testing.T) {
	c := hitl.New()
	c.Capture(types.InterruptPayload{Type: "tool_approval", ToolCalls: []types.PendingToolCall{
		{ID: "c1", Name: "generate_image", Arguments: json.RawMessage(`{"prompt":"cat"}`)},
		{ID: "c2", Name: "generate_image"},
	}}, "a2")
	if err := c.SetDecision("c1", types.DecisionApproved); err != nil {
		t.Fatal(err)
	}

	view := InterruptFromView("t1", c.Snapshot())
	if view.State != "interrupted" || view.MessageID != "a2" || view.AllDecided {
		t.Errorf("view = %+v", view)
	}
	if len(view.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls", len(view.ToolCalls))
	}
	if view.ToolCalls[0].Decision != "approved" || view.ToolCalls[1].Decision != "undecided" {
		t.Errorf("decisions = %q, %q", view.ToolCalls[0].Decision, view.ToolCalls[1].Decision)
	}
	if string(view.ToolCalls[1].Arguments) != "{}" {
		t.Errorf("missing arguments should normalize to {}, got %s", view.ToolCalls[1].Arguments)
	}

	idle := InterruptFromView("t1", hitl.New().Snapshot())
	if idle.State != "idle" || idle.ToolCalls == nil {
		t.Errorf("idle view = %+v", idle)
	}
}

func TestMetricsFromSnapshot(t *testing.T) {
	c := metrics.NewCollector("strict", "fs", "t1")
	c.IncRunStarted()
	c.IncRunInterrupted()
	c.IncFrame("token")

	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	got := MetricsFromSnapshot(c.Snapshot(), ts)
	if got.RunsStarted != 1 || got.RunsInterrupted != 1 || got.FramesDecoded != 1 {
		t.Errorf("counters = %+v", got)
	}
	if got.Ts != "2026-10-19T12:00:00Z" || got.Policy != "strict" || got.ThreadID != "t1" {
		t.Errorf("dimensions = ts %q policy %q thread %q", got.Ts, got.Policy, got.ThreadID)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		ev   types.Event
		want string
	}{
		{"token", types.Event{Type: types.EventTypeToken, Content: json.RawMessage(`"Hi"`)}, `"Hi"`},
		{"tool call", types.Event{Type: types.EventTypeToolCall, ID: "c1", Name: "search"}, "search(c1)"},
		{"tool result", types.Event{Type: types.EventTypeToolResult, ToolCallID: "c1", IsError: true}, "result for c1 (error)"},
		{"interrupt", types.Event{Type: types.EventTypeInterrupt, Payload: &types.InterruptPayload{
			ToolCalls: []types.PendingToolCall{{ID: "c1", Name: "generate_image"}},
		}}, "awaiting generate_image(c1)"},
		{"meta", types.Event{Type: types.EventTypeMeta, Phase: types.PhaseComplete, CheckpointID: strPtr("cp9")}, "phase=complete checkpoint=cp9"},
		{"meta start", types.Event{Type: types.EventTypeMeta, Phase: types.PhaseStart}, "phase=start"},
		{"error", types.Event{Type: types.EventTypeError, Error: "boom"}, "boom"},
		{"done", types.Event{Type: types.EventTypeDone}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(&tt.ev); got != tt.want {
				t.Errorf("Summarize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarize_TruncatesLongText(t *testing.T) {
	ev := types.Event{Type: types.EventTypeError, Error: strings.Repeat("x", 200)}
	got := Summarize(&ev)
	if len([]rune(got)) != summaryWidth || !strings.HasSuffix(got, "...") {
		t.Errorf("got %d runes: %q", len([]rune(got)), got)
	}
}

func TestJournalRows(t *testing.T) {
	frames := []*lode.FrameRecord{
		{Seq: 1, Ts: "t", Type: "token", MessageID: "a1", Event: types.Event{Type: types.EventTypeToken, Content: json.RawMessage(`"a"`)}},
		{Seq: 2, Ts: "t", Type: "done", MessageID: "a1", Event: types.Event{Type: types.EventTypeDone}},
	}
	rows := JournalRows(frames)
	if len(rows) != 2 || rows[0].Seq != 1 || rows[0].Summary != `"a"` || rows[1].Type != "done" {
		t.Errorf("rows = %+v", rows)
	}
	if rows := JournalRows(nil); rows == nil || len(rows) != 0 {
		t.Errorf("nil frames should give an empty, non-nil slice")
	}
}

func TestNewReplayResult(t *testing.T) {
	parts := []types.Part{
		types.TextPart("Hello"),
		{Type: types.PartTypeToolCall, ToolCallID: "c1", ToolName: "search", Result: json.RawMessage(`"ok"`)},
	}
	status := types.StatusRequiresAction
	res := NewReplayResult("capture.txt", parts, &status, 7, 1, "cp1", []string{"c2"})

	if res.Status != "requires-action" || res.Reason != "interrupt" {
		t.Errorf("status = %s/%s", res.Status, res.Reason)
	}
	if res.Text != "Hello" || res.Frames != 7 || res.Skipped != 1 || res.Checkpoint != "cp1" {
		t.Errorf("result = %+v", res)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0] != "search(c1) done" {
		t.Errorf("tool calls = %v", res.ToolCalls)
	}

	running := NewReplayResult("x", nil, nil, 0, 0, "", nil)
	if running.Status != "running" || running.Pending == nil {
		t.Errorf("no status: %+v", running)
	}
}

package hitl

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pithecene-io/waypoint/types"
)

func payload(calls ...types.PendingToolCall) types.InterruptPayload {
	return types.InterruptPayload{Type: "tool_approval", ToolCalls: calls}
}

func call(id, args string) types.PendingToolCall {
	return types.PendingToolCall{ID: id, Name: "generate_image", Arguments: json.RawMessage(args)}
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
		wantLen int
	}{
		{name: "object", text: `{"prompt":"dog"}`, wantLen: 1},
		{name: "blank is empty object", text: "  \n ", wantLen: 0},
		{name: "array", text: `[1,2]`, wantErr: MsgNotObject},
		{name: "scalar", text: `42`, wantErr: MsgNotObject},
		{name: "null", text: `null`, wantErr: MsgNotObject},
		{name: "broken", text: `{"prompt":`, wantErr: MsgInvalidJSON},
		{name: "trailing data", text: `{"a":1} {"b":2}`, wantErr: MsgInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ParseArguments(tt.text)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Errorf("ParseArguments(%q) error = %v, want %q", tt.text, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArguments(%q): %v", tt.text, err)
			}
			if len(obj) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(obj), tt.wantLen)
			}
		})
	}
}

func TestParseArguments_PreservesNumbers(t *testing.T) {
	obj, err := ParseArguments(`{"seed": 12345678901234567890}`)
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	b, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"seed":12345678901234567890}` {
		t.Errorf("re-encoded = %s", b)
	}
}

func TestCoordinator_CaptureSeedsDrafts(t *testing.T) {
	var transitions []State
	c := New(WithOnChange(func(s State) { transitions = append(transitions, s) }))

	if c.State() != Idle {
		t.Fatalf("initial state = %v, want idle", c.State())
	}

	c.Capture(payload(call("t1", `{"prompt":"cat"}`)), "a1")

	if c.State() != Interrupted {
		t.Fatalf("state = %v, want interrupted", c.State())
	}
	p, msgID, ok := c.Pending()
	if !ok || msgID != "a1" || len(p.ToolCalls) != 1 || p.ToolCalls[0].ID != "t1" {
		t.Errorf("Pending() = %+v, %q, %v", p, msgID, ok)
	}
	want := "{\n  \"prompt\": \"cat\"\n}"
	if d, _ := c.Draft("t1"); d != want {
		t.Errorf("Draft(t1) = %q, want %q", d, want)
	}
	if d, _ := c.DisplayText("t1"); d != want {
		t.Errorf("DisplayText(t1) = %q, want %q", d, want)
	}
	if len(transitions) != 1 || transitions[0] != Interrupted {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestCoordinator_OperationsRequirePending(t *testing.T) {
	c := New()
	if err := c.SetDecision("t1", types.DecisionApproved); !errors.Is(err, ErrNotInterrupted) {
		t.Errorf("SetDecision idle error = %v", err)
	}
	if _, err := c.Submit(); !errors.Is(err, ErrNotInterrupted) {
		t.Errorf("Submit idle error = %v", err)
	}

	c.Capture(payload(call("t1", `{}`)), "a1")
	if err := c.SetDraftArguments("t9", "{}"); !errors.Is(err, ErrUnknownToolCall) {
		t.Errorf("SetDraftArguments unknown error = %v", err)
	}
	if err := c.SetDecision("t1", "maybe"); err == nil {
		t.Error("invalid decision accepted")
	}
}

func TestCoordinator_DraftEditing(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{"prompt":"cat"}`)), "a1")

	err := c.SetDraftArguments("t1", `{"prompt":`)
	var argErr *ArgumentError
	if !errors.As(err, &argErr) || argErr.Msg != MsgInvalidJSON {
		t.Fatalf("SetDraftArguments error = %v", err)
	}
	if c.DraftError("t1") != MsgInvalidJSON {
		t.Errorf("DraftError = %q", c.DraftError("t1"))
	}
	if d, _ := c.DisplayText("t1"); d != `{"prompt":` {
		t.Errorf("display did not follow draft: %q", d)
	}

	if err := c.SetDraftArguments("t1", `["x"]`); err == nil || c.DraftError("t1") != MsgNotObject {
		t.Errorf("array draft error = %v / %q", err, c.DraftError("t1"))
	}

	if err := c.ResetDraftArguments("t1"); err != nil {
		t.Fatalf("ResetDraftArguments: %v", err)
	}
	if c.DraftError("t1") != "" {
		t.Errorf("error not cleared by reset: %q", c.DraftError("t1"))
	}
	if d, _ := c.Draft("t1"); d != "{\n  \"prompt\": \"cat\"\n}" {
		t.Errorf("draft after reset = %q", d)
	}
}

func TestCoordinator_ReadinessPredicates(t *testing.T) {
	c := New()
	if c.AllDecided() || c.AllApprovedValid() {
		t.Error("predicates must be false with nothing pending")
	}

	c.Capture(payload(call("t1", `{}`), call("t2", `{}`)), "a1")
	if c.AllDecided() {
		t.Error("AllDecided true with no decisions")
	}
	if !c.AllApprovedValid() {
		t.Error("AllApprovedValid should be vacuously true with nothing approved")
	}

	mustDecide(t, c, "t1", types.DecisionApproved)
	if c.AllDecided() {
		t.Error("AllDecided true with one call undecided")
	}
	mustDecide(t, c, "t2", types.DecisionRejected)
	if !c.AllDecided() {
		t.Error("AllDecided false with every call decided")
	}

	_ = c.SetDraftArguments("t2", "not json")
	if !c.AllApprovedValid() {
		t.Error("rejected call's draft must be exempt")
	}
	_ = c.SetDraftArguments("t1", "not json")
	if c.AllApprovedValid() {
		t.Error("AllApprovedValid true with invalid approved draft")
	}
}

func TestCoordinator_SubmitNotReady(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{}`), call("t2", `{}`)), "a1")
	mustDecide(t, c, "t1", types.DecisionApproved)

	if _, err := c.Submit(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Submit error = %v, want ErrNotReady", err)
	}
	if c.State() != Interrupted {
		t.Error("failed submit changed state")
	}
}

func TestCoordinator_SubmitWithEdits(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{"prompt":"cat"}`)), "a1")
	mustDecide(t, c, "t1", types.DecisionApproved)
	if err := c.SetDraftArguments("t1", `{"prompt":"dog"}`); err != nil {
		t.Fatalf("SetDraftArguments: %v", err)
	}

	sub, err := c.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.MessageID != "a1" {
		t.Errorf("MessageID = %q, want a1", sub.MessageID)
	}
	if sub.Approval.Type != types.ApprovalTypeToolApproval || len(sub.Approval.Decisions) != 1 {
		t.Fatalf("Approval = %+v", sub.Approval)
	}
	d := sub.Approval.Decisions[0]
	if d.ID != "t1" || d.Decision != types.DecisionApproved || d.Arguments["prompt"] != "dog" {
		t.Errorf("decision = %+v", d)
	}

	if c.State() != Idle {
		t.Errorf("state after submit = %v, want idle", c.State())
	}
	if _, ok := c.Decision("t1"); ok {
		t.Error("decisions not cleared")
	}
	if _, ok := c.Draft("t1"); ok {
		t.Error("drafts not cleared")
	}
	if disp, _ := c.DisplayText("t1"); disp != `{"prompt":"dog"}` {
		t.Errorf("display after submit = %q, want final draft", disp)
	}
}

func TestCoordinator_SubmitRejectedPassesThrough(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{}`)), "a1")
	mustDecide(t, c, "t1", types.DecisionRejected)
	_ = c.SetDraftArguments("t1", "garbage")

	sub, err := c.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d := sub.Approval.Decisions[0]
	if d.Decision != types.DecisionRejected || d.Arguments != nil {
		t.Errorf("rejected decision = %+v", d)
	}
}

func TestCoordinator_SubmitValidationAbortsBatch(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{}`), call("t2", `{"ok":true}`)), "a1")
	mustDecide(t, c, "t1", types.DecisionApproved)
	mustDecide(t, c, "t2", types.DecisionApproved)
	_ = c.SetDraftArguments("t1", "{broken")

	sub, err := c.Submit()
	if sub != nil {
		t.Fatalf("Submit returned a batch despite invalid draft: %+v", sub)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 1 || ve.Errors[0].ToolCallID != "t1" {
		t.Fatalf("Submit error = %v", err)
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError false")
	}
	if c.DraftError("t1") != MsgInvalidJSON {
		t.Errorf("DraftError(t1) = %q", c.DraftError("t1"))
	}
	if c.State() != Interrupted {
		t.Error("aborted submit must keep the interrupt pending")
	}
	if d, _ := c.Decision("t2"); d != types.DecisionApproved {
		t.Error("aborted submit cleared decisions")
	}
}

func TestCoordinator_ResetKeepsDisplayAndResults(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{"a":1}`)), "a1")
	mustDecide(t, c, "t1", types.DecisionApproved)
	c.RecordToolResult("t1", json.RawMessage(`"ok"`), false)

	c.Reset()

	if c.State() != Idle {
		t.Errorf("state after reset = %v", c.State())
	}
	if _, ok := c.Decision("t1"); ok {
		t.Error("decision survived reset")
	}
	if _, ok := c.DisplayText("t1"); !ok {
		t.Error("display text cleared by reset")
	}
	if _, ok := c.ToolResult("t1"); !ok {
		t.Error("tool result cleared by reset")
	}
}

func TestCoordinator_RecordToolResultFirstWins(t *testing.T) {
	c := New()
	if !c.RecordToolResult("t1", json.RawMessage(`"first"`), false) {
		t.Fatal("first result not stored")
	}
	if c.RecordToolResult("t1", json.RawMessage(`"second"`), true) {
		t.Error("second result overwrote first")
	}
	r, _ := c.ToolResult("t1")
	if string(r.Result) != `"first"` || r.IsError {
		t.Errorf("ToolResult = %s/%v", r.Result, r.IsError)
	}
	if c.RecordToolResult("", nil, false) {
		t.Error("empty id stored")
	}
}

func TestCoordinator_Snapshot(t *testing.T) {
	c := New()
	c.Capture(payload(call("t1", `{}`), call("t2", `{}`)), "a1")
	mustDecide(t, c, "t1", types.DecisionApproved)
	c.RecordToolResult("t0", json.RawMessage(`1`), false)

	v := c.Snapshot()
	if v.State != Interrupted || v.MessageID != "a1" || len(v.Calls) != 2 {
		t.Fatalf("Snapshot() = %+v", v)
	}
	if v.Calls[0].Decision != types.DecisionApproved || v.Calls[1].Decision != "" {
		t.Errorf("call decisions = %q/%q", v.Calls[0].Decision, v.Calls[1].Decision)
	}
	if v.AllDecided {
		t.Error("AllDecided true in snapshot")
	}
	if len(v.ResultIDs) != 1 || v.ResultIDs[0] != "t0" {
		t.Errorf("ResultIDs = %v", v.ResultIDs)
	}
}

func mustDecide(t *testing.T, c *Coordinator, id string, d types.DecisionKind) {
	t.Helper()
	if err := c.SetDecision(id, d); err != nil {
		t.Fatalf("SetDecision(%s): %v", id, err)
	}
}

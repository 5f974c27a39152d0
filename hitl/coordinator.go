// Package hitl owns the pending-approval state of a thread: which tool
// calls await a human decision, the editable argument drafts for each, and
// the assembly of a decision batch for the feedback-resume run.
package hitl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// State is the coordinator's state.
type State int

const (
	// Idle means no interrupt is pending.
	Idle State = iota
	// Interrupted means an interrupt awaits decisions.
	Interrupted
)

func (s State) String() string {
	if s == Interrupted {
		return "interrupted"
	}
	return "idle"
}

// Argument parse errors shown to the user.
const (
	MsgInvalidJSON = "Invalid JSON."
	MsgNotObject   = "Arguments must be a JSON object."
)

// Sentinel errors.
var (
	// ErrNotInterrupted is returned by operations that need a pending interrupt.
	ErrNotInterrupted = errors.New("no pending interrupt")
	// ErrUnknownToolCall is returned for ids not in the pending interrupt.
	ErrUnknownToolCall = errors.New("tool call is not pending")
	// ErrNotReady is returned by Submit when some call has no decision.
	ErrNotReady = errors.New("not every tool call has a decision")
)

// ArgumentError is a draft that does not parse as a JSON object.
type ArgumentError struct {
	ToolCallID string
	Msg        string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("tool call %s: %s", e.ToolCallID, e.Msg)
}

// ValidationError aborts a submission. It lists every approved call whose
// draft did not parse.
type ValidationError struct {
	Errors []*ArgumentError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ae := range e.Errors {
		msgs[i] = ae.Error()
	}
	return "invalid arguments: " + strings.Join(msgs, "; ")
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ParseArguments parses draft text as a JSON object. Blank text is an empty
// object. Numbers are kept as json.Number so they re-encode unchanged.
func ParseArguments(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.New(MsgInvalidJSON)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New(MsgInvalidJSON)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New(MsgNotObject)
	}
	return obj, nil
}

// ToolResult is the recorded outcome of a tool call.
type ToolResult struct {
	Result  json.RawMessage
	IsError bool
}

// Submission is an accepted decision batch.
type Submission struct {
	// Approval is the approval_data body of the feedback request.
	Approval types.ApprovalData
	// MessageID is the interrupted assistant message; the resume run is
	// parented on it.
	MessageID string
}

// Coordinator holds pending-approval state for one thread. It is safe for
// concurrent use. Accessors return copies.
type Coordinator struct {
	mu sync.Mutex

	pending   *types.InterruptPayload
	messageID string

	decisions map[string]types.DecisionKind
	drafts    map[string]string
	draftErrs map[string]string

	// display and results survive resets.
	display map[string]string
	results map[string]ToolResult

	onChange func(State)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOnChange registers fn to run after every state transition.
// fn runs without the coordinator lock held.
func WithOnChange(fn func(State)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// New creates an idle coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		decisions: make(map[string]types.DecisionKind),
		drafts:    make(map[string]string),
		draftErrs: make(map[string]string),
		display:   make(map[string]string),
		results:   make(map[string]ToolResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}

// Capture enters Interrupted with payload, produced by messageID. Any
// previous interrupt is replaced. Drafts and display text are seeded with
// the pretty-printed original arguments where absent.
func (c *Coordinator) Capture(payload types.InterruptPayload, messageID string) {
	c.mu.Lock()
	p := clonePayload(payload)
	c.pending = &p
	c.messageID = messageID
	for _, tc := range p.ToolCalls {
		text := types.PrettyArgs(tc.Arguments)
		if _, ok := c.drafts[tc.ID]; !ok {
			c.drafts[tc.ID] = text
		}
		if _, ok := c.display[tc.ID]; !ok {
			c.display[tc.ID] = text
		}
	}
	c.mu.Unlock()

	c.notify(Interrupted)
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	if c.pending == nil {
		return Idle
	}
	return Interrupted
}

// Pending returns the pending payload and the interrupted message id.
func (c *Coordinator) Pending() (types.InterruptPayload, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return types.InterruptPayload{}, "", false
	}
	return clonePayload(*c.pending), c.messageID, true
}

func (c *Coordinator) pendingCall(id string) (types.PendingToolCall, error) {
	if c.pending == nil {
		return types.PendingToolCall{}, ErrNotInterrupted
	}
	for _, tc := range c.pending.ToolCalls {
		if tc.ID == id {
			return tc, nil
		}
	}
	return types.PendingToolCall{}, fmt.Errorf("%w: %s", ErrUnknownToolCall, id)
}

// SetDecision records a decision for a pending tool call. Arguments are
// not validated here.
func (c *Coordinator) SetDecision(id string, d types.DecisionKind) error {
	if !d.Valid() {
		return fmt.Errorf("unknown decision %q", d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.pendingCall(id); err != nil {
		return err
	}
	c.decisions[id] = d
	return nil
}

// SetDraftArguments stores text as the draft for id and validates it. The
// display text follows the draft. A parse failure is recorded and returned
// as *ArgumentError; the draft is stored either way.
func (c *Coordinator) SetDraftArguments(id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.pendingCall(id); err != nil {
		return err
	}

	c.drafts[id] = text
	c.display[id] = text
	if _, err := ParseArguments(text); err != nil {
		c.draftErrs[id] = err.Error()
		return &ArgumentError{ToolCallID: id, Msg: err.Error()}
	}
	delete(c.draftErrs, id)
	return nil
}

// ResetDraftArguments restores the draft and display text of id from the
// original arguments and clears its error.
func (c *Coordinator) ResetDraftArguments(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, err := c.pendingCall(id)
	if err != nil {
		return err
	}
	text := types.PrettyArgs(tc.Arguments)
	c.drafts[id] = text
	c.display[id] = text
	delete(c.draftErrs, id)
	return nil
}

// AllDecided reports whether an interrupt is pending and every call in it
// has a decision.
func (c *Coordinator) AllDecided() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allDecidedLocked()
}

func (c *Coordinator) allDecidedLocked() bool {
	if c.pending == nil || len(c.pending.ToolCalls) == 0 {
		return false
	}
	for _, tc := range c.pending.ToolCalls {
		if _, ok := c.decisions[tc.ID]; !ok {
			return false
		}
	}
	return true
}

// AllApprovedValid reports whether every approved call's draft parses.
// Rejected and undecided calls are exempt. False when nothing is pending.
func (c *Coordinator) AllApprovedValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allApprovedValidLocked()
}

func (c *Coordinator) allApprovedValidLocked() bool {
	if c.pending == nil || len(c.pending.ToolCalls) == 0 {
		return false
	}
	for _, tc := range c.pending.ToolCalls {
		if c.decisions[tc.ID] != types.DecisionApproved {
			continue
		}
		if _, err := ParseArguments(c.draftLocked(tc)); err != nil {
			return false
		}
	}
	return true
}

func (c *Coordinator) draftLocked(tc types.PendingToolCall) string {
	if d, ok := c.drafts[tc.ID]; ok {
		return d
	}
	return types.PrettyArgs(tc.Arguments)
}

// Submit assembles the decision batch. Rejected calls pass through as-is;
// approved calls carry their parsed draft. If any approved draft fails to
// parse nothing is submitted, the per-call errors are recorded, and a
// *ValidationError is returned. On success the pending interrupt,
// decisions, drafts and draft errors are cleared before returning.
func (c *Coordinator) Submit() (*Submission, error) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, ErrNotInterrupted
	}
	if !c.allDecidedLocked() {
		c.mu.Unlock()
		return nil, ErrNotReady
	}

	approval := types.ApprovalData{Type: types.ApprovalTypeToolApproval}
	var invalid []*ArgumentError
	for _, tc := range c.pending.ToolCalls {
		if c.decisions[tc.ID] != types.DecisionApproved {
			approval.Decisions = append(approval.Decisions, types.Decision{
				ID:       tc.ID,
				Decision: types.DecisionRejected,
			})
			continue
		}
		args, err := ParseArguments(c.draftLocked(tc))
		if err != nil {
			c.draftErrs[tc.ID] = err.Error()
			invalid = append(invalid, &ArgumentError{ToolCallID: tc.ID, Msg: err.Error()})
			continue
		}
		delete(c.draftErrs, tc.ID)
		approval.Decisions = append(approval.Decisions, types.Decision{
			ID:        tc.ID,
			Decision:  types.DecisionApproved,
			Arguments: args,
		})
	}
	if len(invalid) > 0 {
		c.mu.Unlock()
		return nil, &ValidationError{Errors: invalid}
	}

	for _, tc := range c.pending.ToolCalls {
		if d, ok := c.drafts[tc.ID]; ok {
			c.display[tc.ID] = d
		}
	}
	sub := &Submission{Approval: approval, MessageID: c.messageID}
	c.clearLocked()
	c.mu.Unlock()

	c.notify(Idle)
	return sub, nil
}

// Reset abandons any pending interrupt. Display text and tool results are
// kept.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	was := c.stateLocked()
	c.clearLocked()
	c.mu.Unlock()

	if was == Interrupted {
		c.notify(Idle)
	}
}

func (c *Coordinator) clearLocked() {
	c.pending = nil
	c.messageID = ""
	clear(c.decisions)
	clear(c.drafts)
	clear(c.draftErrs)
}

// RecordToolResult stores the first result seen for id. Later results for
// the same id are ignored. Returns true if the result was stored.
func (c *Coordinator) RecordToolResult(id string, result json.RawMessage, isError bool) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.results[id]; ok {
		return false
	}
	c.results[id] = ToolResult{Result: bytes.Clone(result), IsError: isError}
	return true
}

// ToolResult returns the recorded result for id.
func (c *Coordinator) ToolResult(id string) (ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[id]
	r.Result = bytes.Clone(r.Result)
	return r, ok
}

// Decision returns the decision recorded for id.
func (c *Coordinator) Decision(id string) (types.DecisionKind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.decisions[id]
	return d, ok
}

// Draft returns the draft text for id.
func (c *Coordinator) Draft(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[id]
	return d, ok
}

// DraftError returns the recorded parse error for id, or "".
func (c *Coordinator) DraftError(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draftErrs[id]
}

// DisplayText returns the last text shown for id's arguments.
func (c *Coordinator) DisplayText(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.display[id]
	return d, ok
}

// CallView is the review state of one pending tool call.
type CallView struct {
	Call     types.PendingToolCall
	Decision types.DecisionKind
	Draft    string
	Error    string
	Display  string
}

// View is a copy of the whole review state.
type View struct {
	State            State
	MessageID        string
	Calls            []CallView
	AllDecided       bool
	AllApprovedValid bool
	// ResultIDs lists tool calls that have a recorded result.
	ResultIDs []string
}

// Snapshot returns the review state.
func (c *Coordinator) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:            c.stateLocked(),
		MessageID:        c.messageID,
		AllDecided:       c.allDecidedLocked(),
		AllApprovedValid: c.allApprovedValidLocked(),
		ResultIDs:        slices.Collect(maps.Keys(c.results)),
	}
	sort.Strings(v.ResultIDs)
	if c.pending != nil {
		for _, tc := range c.pending.ToolCalls {
			v.Calls = append(v.Calls, CallView{
				Call:     tc,
				Decision: c.decisions[tc.ID],
				Draft:    c.draftLocked(tc),
				Error:    c.draftErrs[tc.ID],
				Display:  c.display[tc.ID],
			})
		}
	}
	return v
}

func clonePayload(p types.InterruptPayload) types.InterruptPayload {
	out := types.InterruptPayload{Type: p.Type}
	if p.ToolCalls != nil {
		out.ToolCalls = make([]types.PendingToolCall, len(p.ToolCalls))
		for i, tc := range p.ToolCalls {
			tc.Arguments = bytes.Clone(tc.Arguments)
			out.ToolCalls[i] = tc
		}
	}
	return out
}

package types

// RunStatusType is the coarse state of a run.
type RunStatusType string

// Run status types.
const (
	RunStatusRunning        RunStatusType = "running"
	RunStatusComplete       RunStatusType = "complete"
	RunStatusRequiresAction RunStatusType = "requires-action"
	RunStatusIncomplete     RunStatusType = "incomplete"
)

// RunStatusReason qualifies a RunStatusType.
type RunStatusReason string

// Run status reasons.
const (
	ReasonStop      RunStatusReason = "stop"
	ReasonInterrupt RunStatusReason = "interrupt"
	ReasonError     RunStatusReason = "error"
	ReasonCancelled RunStatusReason = "cancelled"
)

// RunStatus is the status attached to a run result.
type RunStatus struct {
	Type   RunStatusType   `json:"type" msgpack:"type"`
	Reason RunStatusReason `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Status values produced by the runtime.
var (
	StatusRequiresAction = RunStatus{Type: RunStatusRequiresAction, Reason: ReasonInterrupt}
	StatusError          = RunStatus{Type: RunStatusIncomplete, Reason: ReasonError}
	StatusCancelled      = RunStatus{Type: RunStatusIncomplete, Reason: ReasonCancelled}
	StatusComplete       = RunStatus{Type: RunStatusComplete, Reason: ReasonStop}
)

// RunResult is one value yielded by a run: a content snapshot, a status,
// or a metadata update. Nil fields are unchanged.
type RunResult struct {
	Content  []Part           `json:"content,omitempty"`
	Status   *RunStatus       `json:"status,omitempty"`
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// IsTerminal reports whether the result carries a status that ends the run.
func (r RunResult) IsTerminal() bool {
	return r.Status != nil && r.Status.Type != RunStatusRunning
}

// ErrorResult builds the single visible result of a run that failed before
// streaming.
func ErrorResult(msg string) RunResult {
	s := StatusError
	return RunResult{Content: []Part{TextPart(msg)}, Status: &s}
}

// DecisionKind is a human verdict on a pending tool call.
type DecisionKind string

// Decision kinds.
const (
	DecisionApproved DecisionKind = "approved"
	DecisionRejected DecisionKind = "rejected"
)

// Valid reports whether d is a known decision.
func (d DecisionKind) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalTypeToolApproval is the only approval_data type.
const ApprovalTypeToolApproval = "tool_approval"

// ApprovalData is the decision batch sent with a feedback-resume request.
type ApprovalData struct {
	Type      string     `json:"type"`
	Decisions []Decision `json:"decisions"`
}

// Decision is the verdict for one tool call. Arguments is only set for
// approved calls and holds the final, possibly edited, arguments object.
type Decision struct {
	ID        string         `json:"id"`
	Decision  DecisionKind   `json:"decision"`
	Arguments map[string]any `json:"arguments,omitzero"`
}

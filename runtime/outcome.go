package runtime

import (
	"slices"
	"time"

	"github.com/pithecene-io/waypoint/adapter"
	"github.com/pithecene-io/waypoint/types"
)

// runSummary is what a finished run knows about itself.
type runSummary struct {
	// Last is the last status yielded, nil if none.
	Last *types.RunStatus
	// Failure is set when the run failed before streaming.
	Failure types.OutcomeStatus
	// IngestErr is the error that ended ingestion early, if any.
	IngestErr error
	// Stopped is true when the consumer stopped iterating.
	Stopped bool
	// Checkpoint is the checkpoint captured from meta frames.
	Checkpoint string
	// Message is the text of the last text part yielded.
	Message string
}

// DetermineOutcome classifies a finished run.
//
// Precedence:
//  1. a failure before streaming (lineage or transport)
//  2. cancellation, including a consumer that stopped early
//  3. a read error mid-stream (transport)
//  4. the final status: requires-action is interrupted, incomplete/error is
//     a backend error frame
//  5. otherwise the stream ended normally
func DetermineOutcome(s runSummary) types.RunOutcome {
	out := types.RunOutcome{CheckpointID: s.Checkpoint}

	switch {
	case s.Failure != "":
		out.Status = s.Failure
		out.Message = s.Message
	case IsCanceledError(s.IngestErr) || (s.Last != nil && s.Last.Reason == types.ReasonCancelled):
		out.Status = types.OutcomeCancelled
		out.Message = "run cancelled"
	case s.Stopped:
		out.Status = types.OutcomeCancelled
		out.Message = "consumer stopped"
	case IsStreamError(s.IngestErr):
		out.Status = types.OutcomeTransportError
		out.Message = s.IngestErr.Error()
	case s.Last != nil && s.Last.Type == types.RunStatusRequiresAction:
		out.Status = types.OutcomeInterrupted
		out.Message = "awaiting approval"
	case s.Last != nil && s.Last.Type == types.RunStatusIncomplete:
		out.Status = types.OutcomeBackendError
		out.Message = s.Message
	default:
		out.Status = types.OutcomeSuccess
		out.Message = "completed"
	}
	return out
}

// FinalStatus returns the status a run's message ends with: the last status
// it yielded, or complete when the stream ended without one.
func FinalStatus(last *types.RunStatus) types.RunStatus {
	if last == nil || last.Type == types.RunStatusRunning {
		return types.StatusComplete
	}
	return *last
}

// BuildRunFinishedEvent builds the notification for a finished run.
func BuildRunFinishedEvent(
	meta types.RunMeta,
	outcome types.RunOutcome,
	last *types.RunStatus,
	pending []string,
	frames int64,
	duration time.Duration,
) *adapter.RunFinishedEvent {
	status := FinalStatus(last)
	event := &adapter.RunFinishedEvent{
		EventType:    adapter.EventTypeRunFinished,
		ThreadID:     meta.ThreadID,
		RunID:        meta.RunID,
		MessageID:    meta.MessageID,
		ParentID:     meta.ParentID,
		Kind:         string(meta.Kind),
		Outcome:      string(outcome.Status),
		Status:       string(status.Type),
		Reason:       string(status.Reason),
		CheckpointID: outcome.CheckpointID,
		Message:      outcome.Message,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		FrameCount:   frames,
		DurationMs:   duration.Milliseconds(),
	}
	if outcome.Status == types.OutcomeInterrupted {
		event.PendingTools = slices.Clone(pending)
	}
	return event
}

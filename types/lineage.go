// Package types defines core domain types for the waypoint runtime.
// Wire types match the chat backend's JSON frame and repo formats.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// RunKind distinguishes a fresh user turn from a feedback resume.
type RunKind string

const (
	// RunKindMessage is a run started by a new (or regenerated) user turn.
	RunKindMessage RunKind = "message"
	// RunKindFeedback resumes an interrupted run with a decision batch.
	RunKindFeedback RunKind = "feedback"
)

// RunMeta contains run identity and lineage metadata.
type RunMeta struct {
	// RunID is the client-side run identifier. Must be unique.
	RunID string
	// ThreadID is the backend conversation identifier.
	ThreadID string
	// MessageID is the assistant message the run writes into.
	MessageID string
	// ParentID is the message the assistant message hangs off. Empty for
	// runs without a parent.
	ParentID string
	// Kind is the run kind.
	Kind RunKind
}

// Validate validates run identity:
//   - run_id, thread_id and message_id are non-empty
//   - kind is known
//   - feedback runs resume an existing parent
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if r.ThreadID == "" {
		return errors.New("thread_id must be non-empty")
	}
	if r.MessageID == "" {
		return errors.New("message_id must be non-empty")
	}

	switch r.Kind {
	case RunKindMessage:
	case RunKindFeedback:
		if r.ParentID == "" {
			return errors.New("feedback run must have parent_id")
		}
	default:
		return fmt.Errorf("unknown run kind %q", r.Kind)
	}

	return nil
}

// OutcomeStatus is the final classification of a run.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the stream ended normally.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeInterrupted indicates the run suspended for human approval.
	OutcomeInterrupted OutcomeStatus = "interrupted"
	// OutcomeBackendError indicates the backend reported an error frame.
	OutcomeBackendError OutcomeStatus = "backend_error"
	// OutcomeTransportError indicates a network failure or non-2xx response.
	OutcomeTransportError OutcomeStatus = "transport_error"
	// OutcomeLineageError indicates the required checkpoint was unresolvable.
	OutcomeLineageError OutcomeStatus = "lineage_error"
	// OutcomeCancelled indicates the caller cancelled the run.
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// RunOutcome represents the final outcome of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// Message is a human-readable description.
	Message string
	// CheckpointID is the checkpoint captured by the run, if any.
	CheckpointID string
}

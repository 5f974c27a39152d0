// Package reader builds the read-side views rendered by waypoint CLI
// commands.
//
// Views are plain structs with json tags so the same payload feeds the json,
// yaml and table renderers and the TUI. Builders take already-fetched data
// (an exported repo, a coordinator snapshot, lode records) and never call
// the backend themselves.
package reader

import (
	"encoding/json"
	"time"
)

// ThreadView is the active branch of a thread.
type ThreadView struct {
	ThreadID string       `json:"thread_id"`
	HeadID   string       `json:"head_id"`
	Messages int          `json:"messages"`
	Branches int          `json:"branches"`
	Path     []MessageRow `json:"path"`
}

// MessageRow is one message on the active branch.
type MessageRow struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	Checkpoint string    `json:"checkpoint"`
	Sibling    string    `json:"sibling"` // "2/3" when the message has alternatives
	Text       string    `json:"text"`
	ToolCalls  []string  `json:"tool_calls"`
	CreatedAt  time.Time `json:"created_at"`
}

// InterruptView is the pending approval state of a thread.
type InterruptView struct {
	ThreadID         string        `json:"thread_id"`
	State            string        `json:"state"`
	MessageID        string        `json:"message_id"`
	AllDecided       bool          `json:"all_decided"`
	AllApprovedValid bool          `json:"all_approved_valid"`
	ToolCalls        []ToolCallRow `json:"tool_calls"`
}

// ToolCallRow is one pending tool call and its review state.
type ToolCallRow struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Decision  string          `json:"decision"`
	Arguments json.RawMessage `json:"arguments"`
	Error     string          `json:"error,omitempty"`
}

// MetricsSnapshot is a session metrics record.
type MetricsSnapshot struct {
	Ts string `json:"ts"`

	// Run lifecycle
	RunsStarted     int64 `json:"runs_started_total"`
	RunsCompleted   int64 `json:"runs_completed_total"`
	RunsInterrupted int64 `json:"runs_interrupted_total"`
	RunsFailed      int64 `json:"runs_failed_total"`
	RunsCancelled   int64 `json:"runs_cancelled_total"`

	// Stream decoding
	FramesDecoded int64            `json:"frames_decoded_total"`
	FramesSkipped int64            `json:"frames_skipped_total"`
	FramesByType  map[string]int64 `json:"frames_by_type,omitempty"`

	// Checkpoint lineage
	CheckpointsRecorded int64 `json:"checkpoints_recorded_total"`
	CheckpointMisses    int64 `json:"checkpoint_misses_total"`
	IndexRebuilds       int64 `json:"index_rebuilds_total"`

	// Human-in-the-loop
	InterruptsCaptured    int64 `json:"interrupts_captured_total"`
	DecisionsSubmitted    int64 `json:"decisions_submitted_total"`
	SubmitValidationFails int64 `json:"submit_validation_fails_total"`

	// Journal
	EventsReceived  int64            `json:"events_received_total"`
	EventsPersisted int64            `json:"events_persisted_total"`
	EventsDropped   int64            `json:"events_dropped_total"`
	DroppedByType   map[string]int64 `json:"dropped_by_type,omitempty"`

	// Storage and sync
	LodeWriteSuccess int64 `json:"lode_write_success_total"`
	LodeWriteFailure int64 `json:"lode_write_failure_total"`
	RepoSyncSuccess  int64 `json:"repo_sync_success_total"`
	RepoSyncFailure  int64 `json:"repo_sync_failure_total"`

	// Dimensions
	Policy         string `json:"policy"`
	StorageBackend string `json:"storage_backend"`
	ThreadID       string `json:"thread_id"`
}

// JournalRow is one journaled frame.
type JournalRow struct {
	Seq       int64  `json:"seq"`
	Ts        string `json:"ts"`
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Summary   string `json:"summary"`
}

// ReplayResult is the message a stream rebuilds into.
type ReplayResult struct {
	Source     string   `json:"source"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason"`
	Frames     int64    `json:"frames"`
	Skipped    int64    `json:"skipped"`
	Checkpoint string   `json:"checkpoint"`
	Text       string   `json:"text"`
	ToolCalls  []string `json:"tool_calls"`
	Pending    []string `json:"pending"`
}

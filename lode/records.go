package lode

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/types"
)

// Record kind discriminators.
const (
	RecordKindFrame   = "frame"
	RecordKindMetrics = "metrics"
)

// SessionRunID is the run_id partition value for session-scoped records.
const SessionRunID = "session"

// FrameRecord is the storage shape of one journal frame.
type FrameRecord struct {
	RecordKind string      `json:"record_kind"`
	ThreadID   string      `json:"thread_id"`
	RunID      string      `json:"run_id"`
	MessageID  string      `json:"message_id"`
	Seq        int64       `json:"seq"`
	Ts         string      `json:"ts"`
	Type       string      `json:"type"`
	Event      types.Event `json:"event"`
	Day        string      `json:"day"`
}

// toFrameRecordMap converts an envelope to a map for Lode storage.
// HiveLayout reads partition keys from map fields.
func toFrameRecordMap(e *types.EventEnvelope, cfg Config) map[string]any {
	threadID := e.ThreadID
	if threadID == "" {
		threadID = cfg.ThreadID
	}
	return map[string]any{
		"record_kind": RecordKindFrame,
		"thread_id":   threadID,
		"run_id":      e.RunID,
		"message_id":  e.MessageID,
		"seq":         e.Seq,
		"ts":          e.Ts.UTC().Format(time.RFC3339Nano),
		"type":        string(e.Type()),
		"event_type":  string(e.Type()), // partition key
		"event":       e.Event,
		"day":         cfg.Day,
	}
}

// toMetricsRecordMap converts a metrics snapshot to a map for Lode storage.
func toMetricsRecordMap(snap metrics.Snapshot, cfg Config, completedAt time.Time) map[string]any {
	threadID := snap.ThreadID
	if threadID == "" {
		threadID = cfg.ThreadID
	}
	policyName := snap.Policy
	if policyName == "" {
		policyName = cfg.Policy
	}
	backend := snap.StorageBackend
	if backend == "" {
		backend = cfg.StorageBackend
	}
	return map[string]any{
		"record_kind": RecordKindMetrics,
		"ts":          completedAt.UTC().Format(time.RFC3339Nano),

		"runs_started_total":     snap.RunsStarted,
		"runs_completed_total":   snap.RunsCompleted,
		"runs_interrupted_total": snap.RunsInterrupted,
		"runs_failed_total":      snap.RunsFailed,
		"runs_cancelled_total":   snap.RunsCancelled,

		"frames_decoded_total": snap.FramesDecoded,
		"frames_skipped_total": snap.FramesSkipped,
		"frames_by_type":       maps.Clone(snap.FramesByType),

		"checkpoints_recorded_total": snap.CheckpointsRecorded,
		"checkpoint_misses_total":    snap.CheckpointMisses,
		"index_rebuilds_total":       snap.IndexRebuilds,

		"interrupts_captured_total":     snap.InterruptsCaptured,
		"decisions_submitted_total":     snap.DecisionsSubmitted,
		"submit_validation_fails_total": snap.SubmitValidationFails,

		"events_received_total":  snap.EventsReceived,
		"events_persisted_total": snap.EventsPersisted,
		"events_dropped_total":   snap.EventsDropped,
		"dropped_by_type":        maps.Clone(snap.DroppedByType),

		"lode_write_success_total": snap.LodeWriteSuccess,
		"lode_write_failure_total": snap.LodeWriteFailure,
		"repo_sync_success_total":  snap.RepoSyncSuccess,
		"repo_sync_failure_total":  snap.RepoSyncFailure,

		"policy":          policyName,
		"storage_backend": backend,

		// Partition keys
		"thread_id":  threadID,
		"day":        cfg.Day,
		"run_id":     SessionRunID,
		"event_type": "metrics",
	}
}

// DecodeFrameRecord converts a record read back from the dataset.
// JSONL decoding yields generic maps, so the record round-trips through JSON.
func DecodeFrameRecord(raw any) (*FrameRecord, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode frame record: %w", err)
	}
	var rec FrameRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode frame record: %w", err)
	}
	if rec.RecordKind != RecordKindFrame {
		return nil, fmt.Errorf("record_kind %q is not %q", rec.RecordKind, RecordKindFrame)
	}
	return &rec, nil
}

// Envelope rebuilds the journal envelope the record was written from.
func (r *FrameRecord) Envelope() (*types.EventEnvelope, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Ts)
	if err != nil {
		return nil, fmt.Errorf("parse ts %q: %w", r.Ts, err)
	}
	return &types.EventEnvelope{
		RunID:     r.RunID,
		ThreadID:  r.ThreadID,
		MessageID: r.MessageID,
		Seq:       r.Seq,
		Ts:        ts,
		Event:     r.Event,
	}, nil
}

package reader

import "errors"

// ParseMetricsRecord converts a Lode record (map[string]any) to a MetricsSnapshot.
// Handles both int64 (direct writes) and float64 (JSON round-trips) for numeric fields.
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts: toString(record["ts"]),

		RunsStarted:     toInt64(record["runs_started_total"]),
		RunsCompleted:   toInt64(record["runs_completed_total"]),
		RunsInterrupted: toInt64(record["runs_interrupted_total"]),
		RunsFailed:      toInt64(record["runs_failed_total"]),
		RunsCancelled:   toInt64(record["runs_cancelled_total"]),

		FramesDecoded: toInt64(record["frames_decoded_total"]),
		FramesSkipped: toInt64(record["frames_skipped_total"]),

		CheckpointsRecorded: toInt64(record["checkpoints_recorded_total"]),
		CheckpointMisses:    toInt64(record["checkpoint_misses_total"]),
		IndexRebuilds:       toInt64(record["index_rebuilds_total"]),

		InterruptsCaptured:    toInt64(record["interrupts_captured_total"]),
		DecisionsSubmitted:    toInt64(record["decisions_submitted_total"]),
		SubmitValidationFails: toInt64(record["submit_validation_fails_total"]),

		EventsReceived:  toInt64(record["events_received_total"]),
		EventsPersisted: toInt64(record["events_persisted_total"]),
		EventsDropped:   toInt64(record["events_dropped_total"]),

		LodeWriteSuccess: toInt64(record["lode_write_success_total"]),
		LodeWriteFailure: toInt64(record["lode_write_failure_total"]),
		RepoSyncSuccess:  toInt64(record["repo_sync_success_total"]),
		RepoSyncFailure:  toInt64(record["repo_sync_failure_total"]),

		Policy:         toString(record["policy"]),
		StorageBackend: toString(record["storage_backend"]),
		ThreadID:       toString(record["thread_id"]),
	}

	snap.FramesByType = parseCounts(record["frames_by_type"])
	snap.DroppedByType = parseCounts(record["dropped_by_type"])

	// The write path always populates these; missing values indicate a
	// malformed record.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.ThreadID == "" {
		return nil, errors.New("metrics record missing required field: thread_id")
	}
	if snap.Policy == "" {
		return nil, errors.New("metrics record missing required field: policy")
	}
	if snap.StorageBackend == "" {
		return nil, errors.New("metrics record missing required field: storage_backend")
	}

	return snap, nil
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCounts converts a per-type counter map from Lode record format.
// Handles both map[string]int64 (direct) and map[string]any (JSON round-trip).
func parseCounts(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}

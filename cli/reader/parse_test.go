package reader

import (
	"strings"
	"testing"
)

func validRecord() map[string]any {
	// JSON round-tripped values decode as float64.
	return map[string]any{
		"record_kind":                "metrics",
		"ts":                         "2026-10-19T15:00:00Z",
		"runs_started_total":         float64(5),
		"runs_completed_total":       float64(3),
		"runs_interrupted_total":     float64(1),
		"runs_failed_total":          float64(1),
		"frames_decoded_total":       float64(120),
		"frames_skipped_total":       float64(2),
		"frames_by_type":             map[string]any{"token": float64(100), "meta": float64(20)},
		"checkpoints_recorded_total": float64(4),
		"events_received_total":      float64(120),
		"events_persisted_total":     float64(118),
		"events_dropped_total":       float64(2),
		"dropped_by_type":            map[string]any{"token": float64(2)},
		"lode_write_success_total":   float64(10),
		"repo_sync_success_total":    int64(6),
		"policy":                     "buffered",
		"storage_backend":            "s3",
		"thread_id":                  "t1",
	}
}

func TestParseMetricsRecord(t *testing.T) {
	parsed, err := ParseMetricsRecord(validRecord())
	if err != nil {
		t.Fatalf("ParseMetricsRecord failed: %v", err)
	}

	if parsed.Ts != "2026-10-19T15:00:00Z" {
		t.Errorf("Ts = %q", parsed.Ts)
	}
	checks := []struct {
		name      string
		got, want int64
	}{
		{"RunsStarted", parsed.RunsStarted, 5},
		{"RunsCompleted", parsed.RunsCompleted, 3},
		{"RunsInterrupted", parsed.RunsInterrupted, 1},
		{"RunsFailed", parsed.RunsFailed, 1},
		{"RunsCancelled", parsed.RunsCancelled, 0},
		{"FramesDecoded", parsed.FramesDecoded, 120},
		{"FramesSkipped", parsed.FramesSkipped, 2},
		{"CheckpointsRecorded", parsed.CheckpointsRecorded, 4},
		{"EventsPersisted", parsed.EventsPersisted, 118},
		{"EventsDropped", parsed.EventsDropped, 2},
		{"LodeWriteSuccess", parsed.LodeWriteSuccess, 10},
		{"RepoSyncSuccess", parsed.RepoSyncSuccess, 6},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if parsed.FramesByType["token"] != 100 {
		t.Errorf("FramesByType[token] = %d, want 100", parsed.FramesByType["token"])
	}
	if parsed.DroppedByType["token"] != 2 {
		t.Errorf("DroppedByType[token] = %d, want 2", parsed.DroppedByType["token"])
	}
	if parsed.ThreadID != "t1" || parsed.Policy != "buffered" || parsed.StorageBackend != "s3" {
		t.Errorf("dimensions = %q/%q/%q", parsed.ThreadID, parsed.Policy, parsed.StorageBackend)
	}
}

func TestParseMetricsRecord_NilRecord(t *testing.T) {
	if _, err := ParseMetricsRecord(nil); err == nil {
		t.Fatal("expected error for nil record")
	}
}

func TestParseMetricsRecord_MissingRequiredFields(t *testing.T) {
	for _, field := range []string{"ts", "thread_id", "policy", "storage_backend"} {
		t.Run(field, func(t *testing.T) {
			record := validRecord()
			delete(record, field)

			_, err := ParseMetricsRecord(record)
			if err == nil {
				t.Fatalf("expected error for missing %s", field)
			}
			if !strings.Contains(err.Error(), field) {
				t.Errorf("error %q should mention %s", err, field)
			}
		})
	}
}

func TestParseCounts(t *testing.T) {
	direct := map[string]int64{"token": 3}
	if got := parseCounts(direct); got["token"] != 3 {
		t.Errorf("direct map: got %v", got)
	}
	if got := parseCounts("nope"); got != nil {
		t.Errorf("non-map: got %v, want nil", got)
	}
	if got := parseCounts(nil); got != nil {
		t.Errorf("nil: got %v, want nil", got)
	}
}

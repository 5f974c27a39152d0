package lode

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/policy"
	"github.com/pithecene-io/waypoint/types"
)

// sharedFactory lets write and read datasets share one in-memory store.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testConfig() Config {
	return Config{
		Dataset:        "waypoint",
		ThreadID:       "thread-1",
		Day:            "2026-10-19",
		Policy:         "strict",
		StorageBackend: "memory",
	}
}

func frame(runID string, seq int64, ev types.Event) *types.EventEnvelope {
	return &types.EventEnvelope{
		RunID:     runID,
		ThreadID:  "thread-1",
		MessageID: "a1",
		Seq:       seq,
		Ts:        time.Date(2026, 10, 19, 12, 0, int(seq), 0, time.UTC),
		Event:     ev,
	}
}

func TestLodeClient_WriteAndQueryRunFrames(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	client, err := NewLodeClientWithFactory(testConfig(), factory)
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory: %v", err)
	}

	batch := []*types.EventEnvelope{
		frame("run-1", 1, types.Event{Type: types.EventTypeToken, Content: json.RawMessage(`"Hel"`)}),
		frame("run-1", 2, types.Event{Type: types.EventTypeToolCall, ID: "c1", Name: "generate_image", Arguments: json.RawMessage(`{"prompt":"cat"}`)}),
	}
	if err := client.WriteEvents(t.Context(), batch); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if err := client.WriteEvents(t.Context(), []*types.EventEnvelope{
		frame("run-1", 3, types.Event{Type: types.EventTypeDone}),
		frame("run-10", 1, types.Event{Type: types.EventTypeDone}),
	}); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	// A retried flush writes seq 2 again.
	if err := client.WriteEvents(t.Context(), batch[1:]); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}

	ds, err := NewReadDataset("waypoint", factory)
	if err != nil {
		t.Fatal(err)
	}
	frames, err := QueryRunFrames(t.Context(), ds, "run-1")
	if err != nil {
		t.Fatalf("QueryRunFrames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Seq != int64(i+1) {
			t.Errorf("frames[%d].Seq = %d", i, f.Seq)
		}
		if f.RunID != "run-1" || f.ThreadID != "thread-1" {
			t.Errorf("frames[%d] identity = %s/%s", i, f.ThreadID, f.RunID)
		}
	}
	if frames[1].Event.Name != "generate_image" {
		t.Errorf("tool_call name = %q", frames[1].Event.Name)
	}

	env, err := frames[0].Envelope()
	if err != nil {
		t.Fatal(err)
	}
	if env.Event.Text() != "Hel" || !env.Ts.Equal(batch[0].Ts) {
		t.Errorf("envelope = %+v", env)
	}
}

func TestLodeClient_WriteEventsRequiresRunID(t *testing.T) {
	client, err := NewLodeClientWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	err = client.WriteEvents(t.Context(), []*types.EventEnvelope{frame("", 1, types.Event{Type: types.EventTypeDone})})
	if !errors.Is(err, ErrMissingRunID) {
		t.Fatalf("err = %v, want ErrMissingRunID", err)
	}
	if err := client.WriteEvents(t.Context(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestQueryRunFrames_NotFound(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	ds, _ := NewReadDataset("waypoint", factory)
	if _, err := QueryRunFrames(t.Context(), ds, "missing"); !errors.Is(err, ErrNoFramesFound) {
		t.Fatalf("err = %v, want ErrNoFramesFound", err)
	}
}

func TestQueryLatestMetrics_WriteAndRead(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	client, err := NewLodeClientWithFactory(testConfig(), factory)
	if err != nil {
		t.Fatal(err)
	}

	first := metrics.Snapshot{RunsStarted: 1, ThreadID: "thread-1"}
	second := metrics.Snapshot{
		RunsStarted:     2,
		RunsInterrupted: 1,
		EventsReceived:  42,
		DroppedByType:   map[string]int64{"token": 3},
		ThreadID:        "thread-1",
	}
	at := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	if err := client.WriteMetrics(t.Context(), first, at); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteMetrics(t.Context(), second, at.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	ds, _ := NewReadDataset("waypoint", factory)
	record, err := QueryLatestMetrics(t.Context(), ds, "thread-1")
	if err != nil {
		t.Fatalf("QueryLatestMetrics: %v", err)
	}
	if toInt64(record["runs_started_total"]) != 2 {
		t.Errorf("runs_started_total = %v, want 2", record["runs_started_total"])
	}
	if record["policy"] != "strict" || record["storage_backend"] != "memory" {
		t.Errorf("dimensions = %v/%v", record["policy"], record["storage_backend"])
	}

	if _, err := QueryLatestMetrics(t.Context(), ds, "other-thread"); !errors.Is(err, ErrNoMetricsFound) {
		t.Errorf("other thread err = %v, want ErrNoMetricsFound", err)
	}
}

func TestToMetricsRecordMap(t *testing.T) {
	snap := metrics.Snapshot{
		RunsStarted:   1,
		FramesByType:  map[string]int64{"token": 7},
		DroppedByType: map[string]int64{"token": 2},
	}
	at := time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)
	record := toMetricsRecordMap(snap, testConfig(), at)

	if record["record_kind"] != RecordKindMetrics || record["event_type"] != "metrics" {
		t.Errorf("kind/type = %v/%v", record["record_kind"], record["event_type"])
	}
	if record["run_id"] != SessionRunID || record["thread_id"] != "thread-1" {
		t.Errorf("partition = %v/%v", record["run_id"], record["thread_id"])
	}
	if record["ts"] != "2026-10-19T15:30:00Z" {
		t.Errorf("ts = %v", record["ts"])
	}

	dropped := record["dropped_by_type"].(map[string]int64)
	dropped["token"] = 99
	if snap.DroppedByType["token"] != 2 {
		t.Error("dropped_by_type aliases the snapshot map")
	}
}

func TestDecodeFrameRecord_RejectsOtherKinds(t *testing.T) {
	if _, err := DecodeFrameRecord(map[string]any{"record_kind": "metrics"}); err == nil {
		t.Fatal("expected error for metrics record")
	}
}

func TestLodeClient_PutFile(t *testing.T) {
	store := lode.NewMemory()
	client, err := NewLodeClientWithFactory(testConfig(), sharedFactory(store))
	if err != nil {
		t.Fatal(err)
	}

	if err := client.PutFile(t.Context(), "repo.json", "application/json", []byte(`{}`)); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	want := "datasets/waypoint/partitions/thread_id=thread-1/day=2026-10-19/files/repo.json"
	if got := client.buildFilePath("repo.json"); got != want {
		t.Errorf("path = %q, want %q", got, want)
	}

	for _, bad := range []string{"", "a/b", `a\b`, "..", "x..y"} {
		if err := client.PutFile(t.Context(), bad, "", nil); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("PutFile(%q) err = %v, want ErrInvalidFilename", bad, err)
		}
	}
}

func TestSink_DelegatesAndStaysOpen(t *testing.T) {
	stub := NewStubClient()
	sink := NewSink(stub)

	if err := sink.WriteEvents(t.Context(), []*types.EventEnvelope{frame("r", 1, types.Event{Type: types.EventTypeDone})}); err != nil {
		t.Fatal(err)
	}
	_ = sink.Close()
	if len(stub.Written()) != 1 {
		t.Errorf("written = %d, want 1", len(stub.Written()))
	}
	if stub.Closed {
		t.Error("closing a run sink closed the shared client")
	}
}

func TestInstrumentedSink_CountsOutcomes(t *testing.T) {
	collector := metrics.NewCollector("strict", "memory", "thread-1")
	inner := policy.NewStubSink()
	sink := NewInstrumentedSink(inner, collector)

	env := []*types.EventEnvelope{frame("r", 1, types.Event{Type: types.EventTypeDone})}
	_ = sink.WriteEvents(t.Context(), env)
	inner.SetError(errors.New("down"))
	_ = sink.WriteEvents(t.Context(), env)

	s := collector.Snapshot()
	if s.LodeWriteSuccess != 1 || s.LodeWriteFailure != 1 {
		t.Errorf("success/failure = %d/%d, want 1/1", s.LodeWriteSuccess, s.LodeWriteFailure)
	}
	_ = sink.Close()
	if !inner.Stats().Closed {
		t.Error("inner sink not closed")
	}
}

func TestParseS3Path(t *testing.T) {
	cases := map[string][2]string{
		"bucket":            {"bucket", ""},
		"bucket/prefix":     {"bucket", "prefix"},
		"bucket/a/b/prefix": {"bucket", "a/b/prefix"},
	}
	for in, want := range cases {
		b, p := ParseS3Path(in)
		if b != want[0] || p != want[1] {
			t.Errorf("ParseS3Path(%q) = %q, %q", in, b, p)
		}
	}
	var cfg S3Config
	if cfg.Validate() == nil {
		t.Error("empty bucket validated")
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "datasets/waypoint/partitions/thread_id=t/day=d/run_id=run-10/event_type=token/x.jsonl"
	if !matchesPartitionValue(path, "run_id", "run-10") {
		t.Error("exact segment not matched")
	}
	if matchesPartitionValue(path, "run_id", "run-1") {
		t.Error("prefix of segment matched")
	}
}

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

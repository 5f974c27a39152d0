package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/waypoint/types"
)

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("thread-1").WithOutput(&buf).ForRun(&types.RunMeta{
		RunID:     "run-1",
		ThreadID:  "thread-1",
		MessageID: "msg-1",
		ParentID:  "user-1",
		Kind:      types.RunKindMessage,
	})

	l.Info("run started", map[string]any{"checkpoint_id": "cp1"})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}

	want := map[string]string{
		"level":      "info",
		"message":    "run started",
		"thread_id":  "thread-1",
		"run_id":     "run-1",
		"message_id": "msg-1",
		"parent_id":  "user-1",
		"kind":       "message",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["checkpoint_id"] != "cp1" {
		t.Errorf("fields = %v, want checkpoint_id=cp1", entry["fields"])
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", nil)
	l.Error("ignored", nil)
	if l.ForRun(&types.RunMeta{}) != nil {
		t.Error("ForRun on nil logger should return nil")
	}
	l.Sugar().Infof("ignored %d", 1)
}

func TestLogger_Sugar(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("t").WithOutput(&buf).Sugar().Warnf("synced %d messages", 3)
	if !strings.Contains(buf.String(), "synced 3 messages") {
		t.Errorf("output = %q", buf.String())
	}
}

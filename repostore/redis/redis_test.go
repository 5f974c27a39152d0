package redis

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/waypoint/repostore"
	"github.com/pithecene-io/waypoint/types"
)

func ptr(s string) *string { return &s }

func sampleRepo() types.ExportedRepo {
	return types.ExportedRepo{
		HeadID: ptr("a1"),
		Messages: []types.ExportedMessage{
			{Message: types.Message{
				ID:      "u1",
				Role:    types.RoleUser,
				Content: []types.Part{types.TextPart("draw a cat")},
			}},
			{
				ParentID: ptr("u1"),
				Message: types.Message{
					ID:   "a1",
					Role: types.RoleAssistant,
					Content: []types.Part{{
						Type:       types.PartTypeToolCall,
						ToolCallID: "c1",
						ToolName:   "generate_image",
						Args:       json.RawMessage(`{"prompt":"cat"}`),
						ArgsText:   "{\n  \"prompt\": \"cat\"\n}",
					}},
					Status:   &types.StatusRequiresAction,
					Metadata: types.CheckpointMetadata("thread-1", "cp-1"),
				},
			},
		},
	}
}

func newStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.URL = "redis://" + mr.Addr()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s, mr := newStore(t, Config{})

	if err := s.Save(t.Context(), "thread-1", sampleRepo()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("waypoint:repo:thread-1") {
		t.Fatal("key waypoint:repo:thread-1 not written")
	}

	got, err := s.Load(t.Context(), "thread-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.HeadID == nil || *got.HeadID != "a1" {
		t.Errorf("HeadID = %v", got.HeadID)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d", len(got.Messages))
	}
	a := got.Messages[1]
	if a.Parent() != "u1" || a.Message.Checkpoint() != "cp-1" {
		t.Errorf("assistant parent/checkpoint = %q/%q", a.Parent(), a.Message.Checkpoint())
	}
	if string(a.Message.Content[0].Args) != `{"prompt":"cat"}` {
		t.Errorf("args = %s", a.Message.Content[0].Args)
	}
	if a.Message.Status == nil || a.Message.Status.Type != types.RunStatusRequiresAction {
		t.Errorf("status = %+v", a.Message.Status)
	}
	if got.Messages[0].ParentID != nil {
		t.Errorf("root parent = %v", *got.Messages[0].ParentID)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := newStore(t, Config{})
	if _, err := s.Load(t.Context(), "nope"); !errors.Is(err, repostore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	s, mr := newStore(t, Config{})
	_ = mr.Set(s.Key("thread-1"), "\xc1not msgpack")
	if _, err := s.Load(t.Context(), "thread-1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestStore_TTL(t *testing.T) {
	s, mr := newStore(t, Config{TTL: time.Minute, KeyPrefix: "test:"})
	if err := s.Save(t.Context(), "t", sampleRepo()); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("test:t"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Load(t.Context(), "t"); !errors.Is(err, repostore.ErrNotFound) {
		t.Errorf("after expiry err = %v, want ErrNotFound", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{URL: "::"}); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := New(Config{URL: "redis://localhost:6379", TTL: -time.Second}); err == nil {
		t.Error("expected error for negative TTL")
	}
}

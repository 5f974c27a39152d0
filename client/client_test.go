package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/waypoint/iox"
	"github.com/pithecene-io/waypoint/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL + "/api/", Headers: map[string]string{"X-Tenant": "t1"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(c))
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "ftp://example.com"},
		{"unparseable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Config{BaseURL: tt.url}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStream_RequestShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/stream" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Tenant") != "t1" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("headers = %v", r.Header)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["thread_id"] != "thread-1" {
			t.Errorf("thread_id = %v", body["thread_id"])
		}
		if v, ok := body["checkpoint_id"]; !ok || v != nil {
			t.Errorf("checkpoint_id = %v (present=%v), want explicit null", v, ok)
		}
		msg, _ := body["message"].(map[string]any)
		if msg["role"] != "human" || msg["content"] != "hello" {
			t.Errorf("message = %v", body["message"])
		}
		_, _ = io.WriteString(w, "data: {\"type\":\"done\"}\n")
	})

	rc, err := c.Stream(t.Context(), StreamRequest{
		ThreadID: "thread-1",
		Message:  &HumanMessage{Role: "human", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer iox.DiscardClose(rc)
	b, _ := io.ReadAll(rc)
	if !strings.Contains(string(b), "done") {
		t.Errorf("body = %q", b)
	}
}

func TestStream_NullMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if v, ok := body["message"]; !ok || v != nil {
			t.Errorf("message = %v, want explicit null", v)
		}
		if body["checkpoint_id"] != "cp1" {
			t.Errorf("checkpoint_id = %v", body["checkpoint_id"])
		}
	})
	cp := "cp1"
	rc, err := c.Stream(t.Context(), StreamRequest{ThreadID: "t", CheckpointID: &cp})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	iox.DiscardClose(rc)
}

func TestStream_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "checkpoint not found", http.StatusNotFound)
	})

	_, err := c.Stream(t.Context(), StreamRequest{ThreadID: "t"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound || se.Body != "checkpoint not found" {
		t.Errorf("StatusError = %d %q", se.Code, se.Body)
	}
	if !IsStatusError(err) {
		t.Error("IsStatusError false")
	}
}

func TestFeedback_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/feedback" {
			t.Errorf("path = %s", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		want := `{"thread_id":"t","checkpoint_id":"cp1","approval_data":{"type":"tool_approval","decisions":[{"id":"t1","decision":"approved","arguments":{"prompt":"dog"}},{"id":"t2","decision":"rejected"}]}}`
		if string(b) != want {
			t.Errorf("body = %s\nwant   %s", b, want)
		}
	})

	rc, err := c.Feedback(t.Context(), FeedbackRequest{
		ThreadID:     "t",
		CheckpointID: "cp1",
		ApprovalData: types.ApprovalData{
			Type: types.ApprovalTypeToolApproval,
			Decisions: []types.Decision{
				{ID: "t1", Decision: types.DecisionApproved, Arguments: map[string]any{"prompt": "dog"}},
				{ID: "t2", Decision: types.DecisionRejected},
			},
		},
	})
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	iox.DiscardClose(rc)

	if _, err := c.Feedback(t.Context(), FeedbackRequest{ThreadID: "t"}); err == nil {
		t.Error("Feedback without checkpoint should fail before sending")
	}
}

func TestInterruptStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/chat/interrupt" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		switch q.Get("checkpoint_id") {
		case "cp-int":
			_, _ = io.WriteString(w, `{"interrupted":true,"checkpoint_id":"cp-int","payload":{"type":"tool_approval","tool_calls":[{"id":"t1","name":"generate_image","arguments":{"prompt":"cat"}}]}}`)
		case "":
			if q.Has("checkpoint_id") {
				t.Error("empty checkpoint_id should be omitted")
			}
			_, _ = io.WriteString(w, `{"interrupted":false,"checkpoint_id":null}`)
		default:
			_, _ = io.WriteString(w, `{"interrupted":true}`)
		}
	})

	st, err := c.InterruptStatus(t.Context(), "t", "cp-int")
	if err != nil {
		t.Fatalf("InterruptStatus: %v", err)
	}
	if !st.Interrupted || st.Payload == nil || st.Payload.ToolCalls[0].ID != "t1" {
		t.Errorf("status = %+v", st)
	}

	st, err = c.InterruptStatus(t.Context(), "t", "")
	if err != nil || st.Interrupted {
		t.Errorf("status = %+v, err = %v", st, err)
	}

	if _, err := c.InterruptStatus(t.Context(), "t", "cp-bad"); err == nil {
		t.Error("interrupted without payload should be an error")
	}
}

func TestRepoRoundTrip(t *testing.T) {
	var stored json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/threads/thread%2F1/repo" && r.URL.RawPath != "/api/threads/thread%2F1/repo" {
			t.Errorf("path = %s (raw %s)", r.URL.Path, r.URL.RawPath)
		}
		switch r.Method {
		case http.MethodGet:
			if stored == nil {
				_, _ = io.WriteString(w, `{"thread_id":"thread/1","repo":null}`)
				return
			}
			_, _ = w.Write([]byte(`{"thread_id":"thread/1","repo":`))
			_, _ = w.Write(stored)
			_, _ = w.Write([]byte(`}`))
		case http.MethodPut:
			var env struct {
				Repo json.RawMessage `json:"repo"`
			}
			if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
				t.Errorf("decode: %v", err)
			}
			stored = env.Repo
		}
	})

	repo, err := c.GetRepo(t.Context(), "thread/1")
	if err != nil || repo != nil {
		t.Fatalf("GetRepo on empty = %v, %v", repo, err)
	}

	head := "a1"
	parent := "u1"
	in := types.ExportedRepo{HeadID: &head, Messages: []types.ExportedMessage{
		{Message: types.Message{ID: "u1", Role: types.RoleUser, Content: []types.Part{types.TextPart("hi")}}},
		{Message: types.Message{ID: "a1", Role: types.RoleAssistant, Metadata: types.CheckpointMetadata("thread/1", "cp1")}, ParentID: &parent},
	}}
	if err := c.PutRepo(t.Context(), "thread/1", in); err != nil {
		t.Fatalf("PutRepo: %v", err)
	}

	out, err := c.GetRepo(t.Context(), "thread/1")
	if err != nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if out == nil || len(out.Messages) != 2 || out.Messages[1].Message.Checkpoint() != "cp1" {
		t.Errorf("GetRepo = %+v", out)
	}
}

func TestShortCallsTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	if _, err := c.GetRepo(t.Context(), "t"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not applied, took %v", elapsed)
	}
}

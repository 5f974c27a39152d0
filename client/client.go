// Package client talks to the chat backend over HTTP.
//
// Stream and Feedback return the open response body of a streaming run;
// the caller owns it. The remaining calls are short request/response
// exchanges bounded by Config.Timeout. Nothing is retried here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/waypoint/iox"
	"github.com/pithecene-io/waypoint/types"
)

// DefaultTimeout bounds non-streaming requests.
const DefaultTimeout = 10 * time.Second

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 8 * 1024

// Endpoint paths, relative to the base URL.
const (
	PathStream    = "/chat/stream"
	PathFeedback  = "/chat/feedback"
	PathInterrupt = "/chat/interrupt"
	PathThreads   = "/threads"
)

// Config configures the backend client.
type Config struct {
	// BaseURL is the deployment prefix, e.g. http://localhost:8000/api (required).
	BaseURL string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout bounds non-streaming requests (default 10s).
	Timeout time.Duration
	// HTTPClient overrides the transport. It must not set a Timeout, which
	// would cut long streams short.
	HTTPClient *http.Client
}

// Client is a backend client. It is safe for concurrent use.
type Client struct {
	base    string
	headers map[string]string
	timeout time.Duration
	http    *http.Client
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client requires a base URL")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		timeout: cfg.Timeout,
		http:    hc,
	}, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	// Body is the start of the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsStatusError reports whether err is a *StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// HumanMessage is the user turn sent with a stream request.
type HumanMessage struct {
	Role string `json:"role"`
	// Content is the message text, or the full part list when the message
	// carries non-text parts.
	Content any `json:"content"`
}

// StreamRequest is the body of POST /chat/stream.
type StreamRequest struct {
	ThreadID     string        `json:"thread_id"`
	CheckpointID *string       `json:"checkpoint_id"`
	Message      *HumanMessage `json:"message"`
}

// FeedbackRequest is the body of POST /chat/feedback.
type FeedbackRequest struct {
	ThreadID     string             `json:"thread_id"`
	CheckpointID string             `json:"checkpoint_id"`
	ApprovalData types.ApprovalData `json:"approval_data"`
}

// InterruptStatus is the response of GET /chat/interrupt.
type InterruptStatus struct {
	Interrupted  bool                    `json:"interrupted"`
	CheckpointID *string                 `json:"checkpoint_id,omitempty"`
	Payload      *types.InterruptPayload `json:"payload,omitempty"`
}

type repoEnvelope struct {
	ThreadID string              `json:"thread_id,omitempty"`
	Repo     *types.ExportedRepo `json:"repo"`
}

// Stream starts a run and returns the response body.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	return c.openStream(ctx, PathStream, req)
}

// Feedback resumes an interrupted run and returns the response body.
func (c *Client) Feedback(ctx context.Context, req FeedbackRequest) (io.ReadCloser, error) {
	if req.CheckpointID == "" {
		return nil, errors.New("feedback requires a checkpoint_id")
	}
	return c.openStream(ctx, PathFeedback, req)
}

func (c *Client) openStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		iox.DrainClose(resp.Body)
		return nil, err
	}
	return resp.Body, nil
}

// InterruptStatus asks whether the run at checkpointID is suspended.
// An empty checkpointID asks about the thread's latest state.
func (c *Client) InterruptStatus(ctx context.Context, threadID, checkpointID string) (*InterruptStatus, error) {
	q := url.Values{}
	q.Set("thread_id", threadID)
	if checkpointID != "" {
		q.Set("checkpoint_id", checkpointID)
	}

	var st InterruptStatus
	if err := c.getJSON(ctx, c.base+PathInterrupt+"?"+q.Encode(), &st); err != nil {
		return nil, err
	}
	if st.Interrupted && st.Payload == nil {
		return nil, errors.New("interrupt status: interrupted without payload")
	}
	return &st, nil
}

// GetRepo fetches the stored message tree. Returns nil, nil when the
// backend has none.
func (c *Client) GetRepo(ctx context.Context, threadID string) (*types.ExportedRepo, error) {
	var env repoEnvelope
	if err := c.getJSON(ctx, c.repoURL(threadID), &env); err != nil {
		return nil, err
	}
	return env.Repo, nil
}

// PutRepo stores the message tree.
func (c *Client) PutRepo(ctx context.Context, threadID string, repo types.ExportedRepo) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPut, c.repoURL(threadID), repoEnvelope{Repo: &repo})
	if err != nil {
		return err
	}
	defer iox.DrainClose(resp.Body)
	return checkStatus(resp)
}

func (c *Client) repoURL(threadID string) string {
	return c.base + PathThreads + "/" + url.PathEscape(threadID) + "/repo"
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer iox.DrainClose(resp.Body)
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// checkStatus returns a *StatusError for non-2xx responses. The body is
// left for the caller to close.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body := iox.ReadLimited(resp.Body, maxErrorBody)
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = "Unknown error"
	}
	return &StatusError{Code: resp.StatusCode, Body: text}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

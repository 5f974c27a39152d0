// Package adapter publishes run-finished notifications to downstream systems.
//
// The run adapter builds one RunFinishedEvent per run when the stream ends
// and hands it to the configured Adapter. Delivery is best-effort: a failed
// publish is logged and never changes the run's results.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventTypeRunFinished is the event_type of every notification.
const EventTypeRunFinished = "run_finished"

// RunFinishedEvent is the payload published when a run finishes.
type RunFinishedEvent struct {
	EventType    string   `json:"event_type"` // always "run_finished"
	ThreadID     string   `json:"thread_id"`
	RunID        string   `json:"run_id"`
	MessageID    string   `json:"message_id"`
	ParentID     string   `json:"parent_id,omitempty"`
	Kind         string   `json:"kind"`    // message or feedback
	Outcome      string   `json:"outcome"` // success, interrupted, backend_error, ...
	Status       string   `json:"status"`  // final RunStatus type
	Reason       string   `json:"reason,omitempty"`
	CheckpointID string   `json:"checkpoint_id,omitempty"`
	PendingTools []string `json:"pending_tools,omitempty"`
	Message      string   `json:"message,omitempty"`
	Timestamp    string   `json:"timestamp"` // RFC 3339
	FrameCount   int64    `json:"frame_count"`
	DurationMs   int64    `json:"duration_ms"`
}

// Adapter publishes run-finished events.
type Adapter interface {
	// Publish sends one event. Must respect ctx cancellation and deadlines.
	Publish(ctx context.Context, event *RunFinishedEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the base delay between publish attempts.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls do up to attempts times with exponential backoff (base, 2*base,
// 4*base, ...) between calls. It stops early when permanent reports the error
// cannot succeed on retry. name prefixes returned errors.
func Retry(ctx context.Context, name string, attempts int, base time.Duration, do func(context.Context) error, permanent func(error) bool) error {
	if base <= 0 {
		base = DefaultBackoff
	}
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = do(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}

// Multi fans one event out to several adapters.
type Multi []Adapter

// Publish sends to every adapter and joins the failures.
func (m Multi) Publish(ctx context.Context, event *RunFinishedEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter and joins the failures.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)

// Recorder keeps published events in memory. The CLI reads run summaries
// from it.
type Recorder struct {
	ch chan *RunFinishedEvent
}

// NewRecorder creates a recorder buffering up to n events.
func NewRecorder(n int) *Recorder {
	return &Recorder{ch: make(chan *RunFinishedEvent, n)}
}

// Publish records the event, or fails when the buffer is full.
func (r *Recorder) Publish(ctx context.Context, event *RunFinishedEvent) error {
	select {
	case r.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("recorder: buffer full")
	}
}

// Events returns the channel of recorded events.
func (r *Recorder) Events() <-chan *RunFinishedEvent { return r.ch }

// Close does nothing; recorded events stay readable.
func (r *Recorder) Close() error { return nil }

var _ Adapter = (*Recorder)(nil)

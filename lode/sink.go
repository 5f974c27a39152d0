// Package lode persists the frame journal, session metrics, and repo
// archives to a Lode dataset on the local filesystem or S3.
//
// Records are partitioned thread_id/day/run_id/event_type and encoded as
// JSONL. The Sink type adapts a Client to policy.Sink so journal policies
// can write through it.
package lode

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/policy"
	"github.com/pithecene-io/waypoint/types"
)

// DefaultDataset is the dataset ID used by the CLI.
const DefaultDataset = "waypoint"

// DeriveDay computes the partition day (YYYY-MM-DD, UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Config holds the partition identity shared by every record a client writes.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// ThreadID is the conversation partition key.
	ThreadID string
	// Day is the session start day partition key.
	Day string
	// Policy names the journal policy, copied into metrics records.
	Policy string
	// StorageBackend is "fs", "s3" or "memory", copied into metrics records.
	StorageBackend string
}

// Client abstracts the Lode storage client.
type Client interface {
	// WriteEvents writes a batch of envelopes, preserving order.
	WriteEvents(ctx context.Context, events []*types.EventEnvelope) error

	// WriteMetrics writes one metrics record for the session.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error

	// Close releases client resources.
	Close() error
}

// Sink adapts a Client to policy.Sink.
type Sink struct {
	client Client
}

// NewSink creates a journal sink over client.
func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

// WriteEvents implements policy.Sink.
func (s *Sink) WriteEvents(ctx context.Context, events []*types.EventEnvelope) error {
	return s.client.WriteEvents(ctx, events)
}

// Close implements policy.Sink. The client is shared across runs, so closing
// a run's sink leaves it open.
func (s *Sink) Close() error {
	return nil
}

var _ policy.Sink = (*Sink)(nil)

// StubClient records writes in memory for tests.
type StubClient struct {
	mu      sync.Mutex
	Events  []*types.EventEnvelope
	Metrics []metrics.Snapshot
	Closed  bool

	// Err, if non-nil, is returned by every write.
	Err error
}

// NewStubClient creates a stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteEvents implements Client.
func (c *StubClient) WriteEvents(_ context.Context, events []*types.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Events = append(c.Events, events...)
	return nil
}

// WriteMetrics implements Client.
func (c *StubClient) WriteMetrics(_ context.Context, snap metrics.Snapshot, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Metrics = append(c.Metrics, snap)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// Written returns a copy of the recorded envelopes.
func (c *StubClient) Written() []*types.EventEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.EventEnvelope, len(c.Events))
	copy(out, c.Events)
	return out
}

var _ Client = (*StubClient)(nil)

package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// Sink persists journal envelopes.
// Batches let strict (batch of 1) and buffered policies share one interface.
type Sink interface {
	// WriteEvents persists a batch, preserving order within it.
	WriteEvents(ctx context.Context, events []*types.EventEnvelope) error

	// Close releases resources held by the sink.
	Close() error
}

// StubSink records writes in memory for tests.
type StubSink struct {
	mu sync.Mutex

	// EventsWritten is the total count of envelopes written.
	EventsWritten int64
	// EventBatches is the number of WriteEvents calls that succeeded.
	EventBatches int64
	// Closed reports whether Close was called.
	Closed bool
	// WrittenEvents stores every written envelope.
	WrittenEvents []*types.EventEnvelope

	// ErrorOnWrite, if non-nil, is returned by WriteEvents.
	ErrorOnWrite error
}

// NewStubSink creates a stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteEvents records the batch.
func (s *StubSink) WriteEvents(_ context.Context, events []*types.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.EventBatches++
	s.EventsWritten += int64(len(events))
	s.WrittenEvents = append(s.WrittenEvents, events...)
	return nil
}

// SetError sets or clears the injected write error.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// Written returns a copy of the written envelopes.
func (s *StubSink) Written() []*types.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.EventEnvelope, len(s.WrittenEvents))
	copy(out, s.WrittenEvents)
	return out
}

// Stats returns a snapshot of sink statistics.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StubSinkStats{
		EventsWritten: s.EventsWritten,
		EventBatches:  s.EventBatches,
		Closed:        s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	EventsWritten int64
	EventBatches  int64
	Closed        bool
}

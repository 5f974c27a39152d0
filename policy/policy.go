// Package policy decides how decoded stream frames reach the journal sink.
//
// Every frame a run decodes is wrapped in a types.EventEnvelope and handed to
// a Policy. Token deltas and the done marker carry no state the journal needs
// to reconstruct a run, so policies under pressure may drop them. Everything
// else (tool calls, tool results, interrupts, meta, errors) is never dropped.
package policy

import (
	"context"
	"maps"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// Policy controls buffering, dropping, and persistence of journal frames.
//
// A policy must not alter envelopes. A policy error means the journal is
// unhealthy; the run adapter logs it and keeps streaming.
type Policy interface {
	// IngestEvent handles one envelope.
	// May drop droppable frame types; must not drop any other type.
	IngestEvent(ctx context.Context, envelope *types.EventEnvelope) error

	// Flush writes any buffered envelopes.
	// Called when a run finishes, however it finishes.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink.
	Close() error

	// Stats returns a consistent point-in-time snapshot.
	Stats() Stats
}

// Stats holds journal counters for one policy instance.
type Stats struct {
	// TotalEvents is the number of envelopes received.
	TotalEvents int64
	// EventsPersisted is the number of envelopes written to the sink.
	EventsPersisted int64
	// EventsDropped is the number of envelopes dropped.
	EventsDropped int64
	// DroppedByType maps frame types to drop counts.
	DroppedByType map[types.EventType]int64
	// BufferSize is the current estimated buffer size in bytes.
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of sink failures.
	Errors int64
}

// DroppedByTypeStrings returns DroppedByType keyed by plain strings.
func (s Stats) DroppedByTypeStrings() map[string]int64 {
	out := make(map[string]int64, len(s.DroppedByType))
	for k, v := range s.DroppedByType {
		out[string(k)] = v
	}
	return out
}

var droppableTypes = map[types.EventType]bool{
	types.EventTypeToken: true,
	types.EventTypeDone:  true,
}

// IsDroppable reports whether the frame type may be dropped.
func IsDroppable(eventType types.EventType) bool {
	return droppableTypes[eventType]
}

// DroppableTypes returns a copy of the droppable frame type set.
func DroppableTypes() map[types.EventType]bool {
	return maps.Clone(droppableTypes)
}

// statsRecorder keeps counters for a policy.
//
// StrictPolicy uses the self-locking methods. BufferedPolicy uses the Locked
// variants while holding its own mutex so buffer state and counters move
// together.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DroppedByType: make(map[types.EventType]int64)},
	}
}

func (r *statsRecorder) with(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.stats.BufferSize)
}

// --- Locked methods, caller holds BufferedPolicy.mu ---

func (r *statsRecorder) incTotalEventsLocked()            { r.stats.TotalEvents++ }
func (r *statsRecorder) incEventsPersistedLocked(n int64) { r.stats.EventsPersisted += n }
func (r *statsRecorder) incErrorsLocked()                 { r.stats.Errors++ }
func (r *statsRecorder) incFlushLocked()                  { r.stats.FlushCount++ }
func (r *statsRecorder) setBufferSizeLocked(n int64)      { r.stats.BufferSize = n }

func (r *statsRecorder) incEventsDroppedLocked(eventType types.EventType) {
	r.stats.EventsDropped++
	r.stats.DroppedByType[eventType]++
}

func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	s.DroppedByType = maps.Clone(r.stats.DroppedByType)
	return s
}

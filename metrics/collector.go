// Package metrics collects per-session counters.
//
// The Collector accumulates counters across the runs of one thread session.
// It is a leaf package with no internal dependencies. Journal policy counters
// are absorbed from policy.Stats when each run finishes rather than recorded
// live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted     int64
	RunsCompleted   int64
	RunsInterrupted int64
	RunsFailed      int64
	RunsCancelled   int64

	// Stream decoding
	FramesDecoded int64
	FramesSkipped int64
	FramesByType  map[string]int64

	// Checkpoint lineage
	CheckpointsRecorded int64
	CheckpointMisses    int64
	IndexRebuilds       int64

	// Human-in-the-loop
	InterruptsCaptured    int64
	DecisionsSubmitted    int64
	SubmitValidationFails int64

	// Journal (absorbed from policy.Stats per run)
	EventsReceived  int64
	EventsPersisted int64
	EventsDropped   int64
	DroppedByType   map[string]int64

	// Lode / storage
	LodeWriteSuccess int64
	LodeWriteFailure int64

	// Repo sync
	RepoSyncSuccess int64
	RepoSyncFailure int64

	// Dimensions (informational, set at construction)
	Policy         string
	StorageBackend string
	ThreadID       string
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted     int64
	runsCompleted   int64
	runsInterrupted int64
	runsFailed      int64
	runsCancelled   int64

	framesDecoded int64
	framesSkipped int64
	framesByType  map[string]int64

	checkpointsRecorded int64
	checkpointMisses    int64
	indexRebuilds       int64

	interruptsCaptured    int64
	decisionsSubmitted    int64
	submitValidationFails int64

	eventsReceived  int64
	eventsPersisted int64
	eventsDropped   int64
	droppedByType   map[string]int64

	lodeWriteSuccess int64
	lodeWriteFailure int64

	repoSyncSuccess int64
	repoSyncFailure int64

	policy         string
	storageBackend string
	threadID       string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, storageBackend, threadID string) *Collector {
	return &Collector{
		framesByType:   make(map[string]int64),
		droppedByType:  make(map[string]int64),
		policy:         policy,
		storageBackend: storageBackend,
		threadID:       threadID,
	}
}

// add runs fn under the lock. No-op on a nil collector.
func (c *Collector) add(fn func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() { c.add(func() { c.runsStarted++ }) }

// IncRunCompleted records a run whose stream ended normally.
func (c *Collector) IncRunCompleted() { c.add(func() { c.runsCompleted++ }) }

// IncRunInterrupted records a run suspended for approval.
func (c *Collector) IncRunInterrupted() { c.add(func() { c.runsInterrupted++ }) }

// IncRunFailed records a run that ended in an error result.
func (c *Collector) IncRunFailed() { c.add(func() { c.runsFailed++ }) }

// IncRunCancelled records a run cancelled by the caller.
func (c *Collector) IncRunCancelled() { c.add(func() { c.runsCancelled++ }) }

// --- Stream decoding ---

// IncFrame records a decoded frame of the given type.
func (c *Collector) IncFrame(eventType string) {
	c.add(func() {
		c.framesDecoded++
		c.framesByType[eventType]++
	})
}

// AddFramesSkipped records lines the decoder skipped.
func (c *Collector) AddFramesSkipped(n int64) { c.add(func() { c.framesSkipped += n }) }

// --- Checkpoint lineage ---

// IncCheckpointRecorded records a checkpoint written to the index.
func (c *Collector) IncCheckpointRecorded() { c.add(func() { c.checkpointsRecorded++ }) }

// IncCheckpointMiss records a run that failed on missing lineage.
func (c *Collector) IncCheckpointMiss() { c.add(func() { c.checkpointMisses++ }) }

// IncIndexRebuild records a full index rebuild.
func (c *Collector) IncIndexRebuild() { c.add(func() { c.indexRebuilds++ }) }

// --- Human-in-the-loop ---

// IncInterruptCaptured records an interrupt entering the coordinator.
func (c *Collector) IncInterruptCaptured() { c.add(func() { c.interruptsCaptured++ }) }

// IncDecisionsSubmitted records a submitted decision batch.
func (c *Collector) IncDecisionsSubmitted() { c.add(func() { c.decisionsSubmitted++ }) }

// IncSubmitValidationFail records a submission blocked by invalid arguments.
func (c *Collector) IncSubmitValidationFail() { c.add(func() { c.submitValidationFails++ }) }

// --- Lode / storage ---
// Lode counters are per-call, not per-record.

// IncLodeWriteSuccess records a successful Lode write operation.
func (c *Collector) IncLodeWriteSuccess() { c.add(func() { c.lodeWriteSuccess++ }) }

// IncLodeWriteFailure records a failed Lode write operation.
func (c *Collector) IncLodeWriteFailure() { c.add(func() { c.lodeWriteFailure++ }) }

// --- Repo sync ---

// IncRepoSync records the outcome of a repo upload.
func (c *Collector) IncRepoSync(ok bool) {
	c.add(func() {
		if ok {
			c.repoSyncSuccess++
		} else {
			c.repoSyncFailure++
		}
	})
}

// --- Journal (absorbed from policy.Stats) ---

// AbsorbPolicyStats adds one run's journal counters to the collector.
// The droppedByType keys are string-typed event types to keep this package
// free of dependencies on the types package.
func (c *Collector) AbsorbPolicyStats(totalEvents, persisted, dropped int64, droppedByType map[string]int64) {
	c.add(func() {
		c.eventsReceived += totalEvents
		c.eventsPersisted += persisted
		c.eventsDropped += dropped
		for k, v := range droppedByType {
			c.droppedByType[k] += v
		}
	})
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:     c.runsStarted,
		RunsCompleted:   c.runsCompleted,
		RunsInterrupted: c.runsInterrupted,
		RunsFailed:      c.runsFailed,
		RunsCancelled:   c.runsCancelled,

		FramesDecoded: c.framesDecoded,
		FramesSkipped: c.framesSkipped,
		FramesByType:  copyCounts(c.framesByType),

		CheckpointsRecorded: c.checkpointsRecorded,
		CheckpointMisses:    c.checkpointMisses,
		IndexRebuilds:       c.indexRebuilds,

		InterruptsCaptured:    c.interruptsCaptured,
		DecisionsSubmitted:    c.decisionsSubmitted,
		SubmitValidationFails: c.submitValidationFails,

		EventsReceived:  c.eventsReceived,
		EventsPersisted: c.eventsPersisted,
		EventsDropped:   c.eventsDropped,
		DroppedByType:   copyCounts(c.droppedByType),

		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		RepoSyncSuccess: c.repoSyncSuccess,
		RepoSyncFailure: c.repoSyncFailure,

		Policy:         c.policy,
		StorageBackend: c.storageBackend,
		ThreadID:       c.threadID,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package checkpoint maps messages to the backend checkpoint they were
// produced at. The index is a cache: message metadata is the source of
// truth and the index can be rebuilt from an exported tree at any time.
package checkpoint

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// MaxWalkDepth bounds the ancestor walk in Resolve.
const MaxWalkDepth = 4

// MessageSource looks up a message and its parent id.
type MessageSource interface {
	MessageByID(id string) (msg types.Message, parentID string, ok bool)
}

// Index maps message ids to checkpoint tokens. It is safe for concurrent
// use; writes are last-write-wins per message id.
type Index struct {
	mu   sync.RWMutex
	byID map[string]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]string)}
}

// Record stores checkpoint for messageID, overwriting any previous value.
// Empty inputs are ignored.
func (ix *Index) Record(messageID, checkpoint string) {
	if messageID == "" || checkpoint == "" {
		return
	}
	ix.mu.Lock()
	ix.byID[messageID] = checkpoint
	ix.mu.Unlock()
}

// Lookup returns the indexed checkpoint for messageID.
func (ix *Index) Lookup(messageID string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	cp, ok := ix.byID[messageID]
	return cp, ok
}

// Resolve finds the checkpoint a run under parentID should resume from.
//
// Starting at parentID it walks at most MaxWalkDepth ancestors, consulting
// the index and then the message's stored metadata at each step. A value
// found in metadata is written back to the index. If the walk finds
// nothing, fallback is scanned newest-first for an assistant message with
// a stored checkpoint. Returns "" when nothing is found.
func (ix *Index) Resolve(parentID string, src MessageSource, fallback []types.Message) string {
	current := parentID
	for depth := 0; depth < MaxWalkDepth && current != "" && src != nil; depth++ {
		if cp, ok := ix.Lookup(current); ok {
			return cp
		}
		msg, parent, ok := src.MessageByID(current)
		if !ok {
			break
		}
		if cp := msg.Checkpoint(); cp != "" {
			ix.Record(current, cp)
			return cp
		}
		current = parent
	}

	for i := len(fallback) - 1; i >= 0; i-- {
		m := fallback[i]
		if m.Role != types.RoleAssistant {
			continue
		}
		if cp := m.Checkpoint(); cp != "" {
			return cp
		}
	}
	return ""
}

// Rebuild replaces the index with every checkpoint stored in repo and
// returns the number of entries.
func (ix *Index) Rebuild(repo types.ExportedRepo) int {
	next := make(map[string]string, len(repo.Messages))
	for _, em := range repo.Messages {
		if cp := em.Message.Checkpoint(); cp != "" {
			next[em.Message.ID] = cp
		}
	}
	ix.mu.Lock()
	ix.byID = next
	ix.mu.Unlock()
	return len(next)
}

// Snapshot returns a copy of the index.
func (ix *Index) Snapshot() map[string]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return maps.Clone(ix.byID)
}

// Len returns the number of indexed messages.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// ErrMissingCheckpoint is matched by every *LineageError.
var ErrMissingCheckpoint = errors.New("missing checkpoint")

// LineageError reports a run whose required checkpoint is unresolvable.
type LineageError struct {
	// ParentID is the message the run was resolved from, "" if none.
	ParentID string
}

func (e *LineageError) Error() string {
	if e.ParentID == "" {
		return "Missing checkpoint (no parentId)."
	}
	return fmt.Sprintf("Missing checkpoint (parentId=%s).", e.ParentID)
}

// Is reports target == ErrMissingCheckpoint.
func (e *LineageError) Is(target error) bool {
	return target == ErrMissingCheckpoint
}

// Require applies the missing-checkpoint policy. An empty resolved
// checkpoint is an error only when messages already contain an assistant
// message; the first turn of a conversation has no checkpoint.
func Require(resolved, parentID string, messages []types.Message) error {
	if resolved != "" {
		return nil
	}
	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			return &LineageError{ParentID: parentID}
		}
	}
	return nil
}

// Package repostore caches exported message trees locally so a thread can be
// loaded when the backend repo endpoint is unavailable.
package repostore

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// ErrNotFound is returned by Load when no tree is cached for the thread.
var ErrNotFound = errors.New("repostore: thread not found")

// Store persists one exported tree per thread.
type Store interface {
	// Load returns the cached tree or ErrNotFound.
	Load(ctx context.Context, threadID string) (*types.ExportedRepo, error)
	// Save replaces the cached tree.
	Save(ctx context.Context, threadID string, repo types.ExportedRepo) error
	// Close releases resources.
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	repos map[string]types.ExportedRepo
	saves int
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{repos: make(map[string]types.ExportedRepo)}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, threadID string) (*types.ExportedRepo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRepo(repo)
	return &out, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, threadID string, repo types.ExportedRepo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[threadID] = cloneRepo(repo)
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func cloneRepo(repo types.ExportedRepo) types.ExportedRepo {
	out := types.ExportedRepo{Messages: make([]types.ExportedMessage, len(repo.Messages))}
	if repo.HeadID != nil {
		h := *repo.HeadID
		out.HeadID = &h
	}
	for i, em := range repo.Messages {
		out.Messages[i] = types.ExportedMessage{Message: em.Message.Clone()}
		if em.ParentID != nil {
			p := *em.ParentID
			out.Messages[i].ParentID = &p
		}
	}
	return out
}

var _ Store = (*Memory)(nil)

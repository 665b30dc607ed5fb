package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/flowcore/workflow"
)

// MemoryStore is an in-memory CheckpointStore.
//
// Designed for:
//   - Testing and development
//   - Single-process workflows
//   - Short-lived workflows where durability isn't required
//
// MemoryStore is thread-safe. Data is lost when the process terminates; for
// durability across restarts use SQLiteStore.
type MemoryStore struct {
	mu             sync.RWMutex
	byID           map[string]workflow.Checkpoint
	byThread       map[string][]string
	idempotencyMap map[string]bool
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:           make(map[string]workflow.Checkpoint),
		byThread:       make(map[string][]string),
		idempotencyMap: make(map[string]bool),
	}
}

// SaveCheckpoint persists cp, rejecting a reused idempotency key as a
// duplicate commit.
func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp workflow.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.IdempotencyKey != "" {
		if m.idempotencyMap[cp.IdempotencyKey] {
			if _, exists := m.byID[cp.CheckpointID]; !exists {
				return fmt.Errorf("duplicate checkpoint: idempotency key %q already exists", cp.IdempotencyKey)
			}
		}
		m.idempotencyMap[cp.IdempotencyKey] = true
	}

	if _, exists := m.byID[cp.CheckpointID]; !exists {
		m.byThread[cp.ThreadID] = append(m.byThread[cp.ThreadID], cp.CheckpointID)
	}
	m.byID[cp.CheckpointID] = cp
	return nil
}

// LoadCheckpoint retrieves a checkpoint by ID.
func (m *MemoryStore) LoadCheckpoint(_ context.Context, checkpointID string) (workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.byID[checkpointID]
	if !ok {
		return workflow.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

// DeleteCheckpoint removes a checkpoint. Deleting an unknown ID is a no-op.
func (m *MemoryStore) DeleteCheckpoint(_ context.Context, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.byID[checkpointID]
	if !ok {
		return nil
	}
	delete(m.byID, checkpointID)

	ids := m.byThread[cp.ThreadID]
	for i, id := range ids {
		if id == checkpointID {
			m.byThread[cp.ThreadID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// ListThreadCheckpoints returns threadID's checkpoints, newest first.
func (m *MemoryStore) ListThreadCheckpoints(_ context.Context, threadID string) ([]workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byThread[threadID]
	out := make([]workflow.Checkpoint, len(ids))
	for i, id := range ids {
		out[i] = m.byID[id]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

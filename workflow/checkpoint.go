package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/flowcore/workflow/errs"
	"github.com/dshills/flowcore/workflow/id"
)

// CheckpointStore persists Checkpoints durably so a CheckpointManager's
// history survives process restarts (spec §6's persisted state layout). A
// nil store leaves the manager exactly as before: bounded, in-memory only.
// Implementations (e.g. workflow/store's SQLite/in-memory backends) need
// only satisfy this interface structurally — the manager never imports them.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context, checkpointID string) (Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, checkpointID string) error
	ListThreadCheckpoints(ctx context.Context, threadID string) ([]Checkpoint, error)
}

// Checkpoint is an encoded snapshot of a WorkflowState at a point in time
// (spec §3). Ordering within a thread is by Timestamp.
type Checkpoint struct {
	CheckpointID   string
	ThreadID       string
	WorkflowID     string
	CurrentNodeID  string
	StateSnapshot  Props
	Timestamp      time.Time
	Metadata       map[string]any
	IdempotencyKey string
}

// CheckpointManager snapshots WorkflowState per step, with bounded per-thread
// and global oldest-first eviction (spec §4.7).
type CheckpointManager struct {
	gen   *id.Generator
	clock id.Clock

	maxPerThread int
	maxTotal     int

	mu          sync.Mutex
	byID        map[string]Checkpoint
	byThread    map[string][]string // thread_id -> checkpoint ids, oldest first
	insertOrder []string            // global oldest-first order, for total eviction

	store CheckpointStore // optional durable backing; nil means memory-only
}

// NewCheckpointManager constructs a CheckpointManager bounding each thread to
// maxPerThread checkpoints and the whole manager to maxTotal (spec §6
// defaults: 10 and 1000 respectively — callers pass the configured values).
func NewCheckpointManager(gen *id.Generator, clock id.Clock, maxPerThread, maxTotal int) *CheckpointManager {
	return NewCheckpointManagerWithStore(gen, clock, maxPerThread, maxTotal, nil)
}

// NewCheckpointManagerWithStore is NewCheckpointManager plus a durable
// CheckpointStore: every Create/Delete/ClearAll is mirrored into store, and
// Get/Restore fall back to it on a local miss (e.g. after a process
// restart). A nil store behaves exactly like NewCheckpointManager.
func NewCheckpointManagerWithStore(gen *id.Generator, clock id.Clock, maxPerThread, maxTotal int, store CheckpointStore) *CheckpointManager {
	return &CheckpointManager{
		gen:          gen,
		clock:        clock,
		maxPerThread: maxPerThread,
		maxTotal:     maxTotal,
		byID:         map[string]Checkpoint{},
		byThread:     map[string][]string{},
		store:        store,
	}
}

// computeIdempotencyKey hashes (thread_id, step, current_node_id,
// execution_context_snapshot) deterministically — generalized from the
// teacher's run/step/frontier/state idempotency digest to this engine's
// thread/node/context shape (SPEC_FULL §12).
func computeIdempotencyKey(threadID string, step int, currentNodeID string, snapshot Props) (string, error) {
	data, err := json.Marshal(struct {
		ThreadID string `json:"thread_id"`
		Step     int    `json:"step"`
		NodeID   string `json:"node_id"`
		Ctx      Props  `json:"ctx"`
	}{ThreadID: threadID, Step: step, NodeID: currentNodeID, Ctx: snapshot})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Create serializes state deterministically and appends a Checkpoint to
// threadID's ordered list, evicting the oldest entries if either bound is
// exceeded (spec §4.7).
func (m *CheckpointManager) Create(threadID, workflowID string, step int, state WorkflowState, metadata map[string]any) (string, error) {
	props := state.ToProps(m.clock)
	key, err := computeIdempotencyKey(threadID, step, state.CurrentNodeID, props)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "checkpoint", "failed to compute idempotency key", err)
	}

	checkpointID := m.gen.New()
	cp := Checkpoint{
		CheckpointID:   checkpointID,
		ThreadID:       threadID,
		WorkflowID:     workflowID,
		CurrentNodeID:  state.CurrentNodeID,
		StateSnapshot:  props,
		Timestamp:      m.clock.Now(),
		Metadata:       metadata,
		IdempotencyKey: key,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[checkpointID] = cp
	m.byThread[threadID] = append(m.byThread[threadID], checkpointID)
	m.insertOrder = append(m.insertOrder, checkpointID)

	m.evictThreadLocked(threadID)
	m.evictGlobalLocked()

	if m.store != nil {
		if err := m.store.SaveCheckpoint(context.Background(), cp); err != nil {
			return "", errs.Wrap(errs.Internal, "checkpoint", "durable store write failed", err)
		}
	}

	return checkpointID, nil
}

// evictThreadLocked drops the oldest checkpoints for threadID until its
// count is within maxPerThread. Caller must hold m.mu.
func (m *CheckpointManager) evictThreadLocked(threadID string) {
	if m.maxPerThread <= 0 {
		return
	}
	ids := m.byThread[threadID]
	for len(ids) > m.maxPerThread {
		oldest := ids[0]
		ids = ids[1:]
		m.deleteLocked(oldest)
	}
	m.byThread[threadID] = ids
}

// evictGlobalLocked drops the globally oldest checkpoints until the total
// count is within maxTotal. Caller must hold m.mu.
func (m *CheckpointManager) evictGlobalLocked() {
	if m.maxTotal <= 0 {
		return
	}
	for len(m.insertOrder) > m.maxTotal {
		oldest := m.insertOrder[0]
		m.insertOrder = m.insertOrder[1:]
		m.deleteLocked(oldest)
	}
}

// deleteLocked performs the cascading delete across all three indices.
// Caller must hold m.mu.
func (m *CheckpointManager) deleteLocked(checkpointID string) {
	cp, ok := m.byID[checkpointID]
	if !ok {
		return
	}
	delete(m.byID, checkpointID)
	m.byThread[cp.ThreadID] = removeEdgeID(m.byThread[cp.ThreadID], checkpointID)
	m.insertOrder = removeEdgeID(m.insertOrder, checkpointID)
}

// Get returns the checkpoint registered under checkpointID, falling back to
// the durable store (if configured) on a local cache miss.
func (m *CheckpointManager) Get(checkpointID string) (Checkpoint, error) {
	m.mu.Lock()
	cp, ok := m.byID[checkpointID]
	m.mu.Unlock()
	if ok {
		return cp, nil
	}

	if m.store != nil {
		cp, err := m.store.LoadCheckpoint(context.Background(), checkpointID)
		if err == nil {
			m.mu.Lock()
			m.byID[checkpointID] = cp
			m.mu.Unlock()
			return cp, nil
		}
	}

	return Checkpoint{}, errs.New(errs.NotFound, "checkpoint", fmt.Sprintf("no checkpoint %q", checkpointID))
}

// Restore rehydrates a WorkflowState from the checkpoint's encoded snapshot
// and trims prompt history back to the dense next_index boundary (spec
// §4.7's restoration obligation).
func (m *CheckpointManager) Restore(checkpointID string) (WorkflowState, error) {
	cp, err := m.Get(checkpointID)
	if err != nil {
		return WorkflowState{}, err
	}

	ctx := RestoreContext(cp.StateSnapshot.ExecutionCtx)
	ctx, trimErr := ctx.TrimToIndex(ctx.NextIndex())
	if trimErr != nil {
		return WorkflowState{}, errs.Wrap(errs.Internal, "checkpoint", "restored context failed re-trim", trimErr)
	}

	nodeStates := make(map[string]NodeExecutionState, len(cp.StateSnapshot.NodeStates))
	for k, v := range cp.StateSnapshot.NodeStates {
		nodeStates[k] = v
	}

	return WorkflowState{
		WorkflowID:    cp.StateSnapshot.WorkflowID,
		ThreadID:      cp.StateSnapshot.ThreadID,
		CurrentNodeID: cp.StateSnapshot.CurrentNodeID,
		ExecutedNodes: append([]string{}, cp.StateSnapshot.ExecutedNodes...),
		StartTime:     cp.StateSnapshot.StartTime,
		EndTime:       cp.StateSnapshot.EndTime,
		ExecutionCtx:  ctx,
		NodeStates:    nodeStates,
	}, nil
}

// Delete removes checkpointID from all indices, and from the durable store
// if one is configured.
func (m *CheckpointManager) Delete(checkpointID string) {
	m.mu.Lock()
	m.deleteLocked(checkpointID)
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.DeleteCheckpoint(context.Background(), checkpointID)
	}
}

// GetThreadCheckpoints returns threadID's checkpoints, newest-first.
func (m *CheckpointManager) GetThreadCheckpoints(threadID string) []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byThread[threadID]
	out := make([]Checkpoint, len(ids))
	for i, cid := range ids {
		out[i] = m.byID[cid]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// GetLatestCheckpoint returns threadID's most recent checkpoint, if any.
func (m *CheckpointManager) GetLatestCheckpoint(threadID string) (Checkpoint, bool) {
	cps := m.GetThreadCheckpoints(threadID)
	if len(cps) == 0 {
		return Checkpoint{}, false
	}
	return cps[0], true
}

// ClearThreadCheckpoints removes every checkpoint for threadID.
func (m *CheckpointManager) ClearThreadCheckpoints(threadID string) {
	m.mu.Lock()
	ids := append([]string{}, m.byThread[threadID]...)
	for _, cid := range ids {
		m.deleteLocked(cid)
	}
	m.mu.Unlock()

	if m.store != nil {
		for _, cid := range ids {
			_ = m.store.DeleteCheckpoint(context.Background(), cid)
		}
	}
}

// ClearAll removes every checkpoint.
func (m *CheckpointManager) ClearAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byID))
	for cid := range m.byID {
		ids = append(ids, cid)
	}
	m.byID = map[string]Checkpoint{}
	m.byThread = map[string][]string{}
	m.insertOrder = nil
	m.mu.Unlock()

	if m.store != nil {
		for _, cid := range ids {
			_ = m.store.DeleteCheckpoint(context.Background(), cid)
		}
	}
}

// TotalCheckpoints returns the current global checkpoint count (spec §8
// "Checkpoint eviction" property).
func (m *CheckpointManager) TotalCheckpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

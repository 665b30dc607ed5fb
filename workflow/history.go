package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/dshills/flowcore/workflow/id"
)

// HistoryStatus is the outcome recorded for one HistoryRecord.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailure HistoryStatus = "failure"
	HistoryPending HistoryStatus = "pending"
	HistoryRunning HistoryStatus = "running"
)

// HistoryRecord is one append-only execution record (spec §3).
type HistoryRecord struct {
	HistoryID string
	ThreadID  string
	NodeID    string
	Timestamp time.Time
	Status    HistoryStatus
	Result    any
	Metadata  map[string]any
}

// HistoryStatistics summarizes a thread's recorded history.
type HistoryStatistics struct {
	Total   int
	Success int
	Failure int
	Pending int
	Running int
}

// HistoryManager is the thread-local, append-only execution trace (spec
// §4.6). No cross-thread visibility: every operation is scoped to a single
// thread_id.
type HistoryManager struct {
	gen   *id.Generator
	clock id.Clock

	mu      sync.Mutex
	records map[string][]HistoryRecord // thread_id -> records, append order
}

// NewHistoryManager constructs an empty HistoryManager.
func NewHistoryManager(gen *id.Generator, clock id.Clock) *HistoryManager {
	return &HistoryManager{gen: gen, clock: clock, records: map[string][]HistoryRecord{}}
}

// Record appends a new HistoryRecord for threadID and returns its id.
func (m *HistoryManager) Record(threadID, nodeID string, status HistoryStatus, result any, metadata map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	historyID := m.gen.New()
	record := HistoryRecord{
		HistoryID: historyID,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Timestamp: m.clock.Now(),
		Status:    status,
		Result:    result,
		Metadata:  metadata,
	}
	m.records[threadID] = append(m.records[threadID], record)
	return historyID
}

// GetHistory returns every record for threadID, in recording order.
func (m *HistoryManager) GetHistory(threadID string) []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryRecord{}, m.records[threadID]...)
}

// GetNodeHistory returns threadID's records for nodeID, in recording order.
func (m *HistoryManager) GetNodeHistory(threadID, nodeID string) []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryRecord
	for _, r := range m.records[threadID] {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// GetLatestHistory returns threadID's records sorted by timestamp
// descending, capped at limit (0 means unbounded).
func (m *HistoryManager) GetLatestHistory(threadID string, limit int) []HistoryRecord {
	m.mu.Lock()
	records := append([]HistoryRecord{}, m.records[threadID]...)
	m.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// GetStatistics summarizes threadID's recorded history by status.
func (m *HistoryManager) GetStatistics(threadID string) HistoryStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := HistoryStatistics{}
	for _, r := range m.records[threadID] {
		stats.Total++
		switch r.Status {
		case HistorySuccess:
			stats.Success++
		case HistoryFailure:
			stats.Failure++
		case HistoryPending:
			stats.Pending++
		case HistoryRunning:
			stats.Running++
		}
	}
	return stats
}

// ClearHistory discards every record for threadID.
func (m *HistoryManager) ClearHistory(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, threadID)
}

// ClearAll discards every record for every thread.
func (m *HistoryManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = map[string][]HistoryRecord{}
}

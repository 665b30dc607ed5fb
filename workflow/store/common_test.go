package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/flowcore/workflow"
	"github.com/dshills/flowcore/workflow/store"
)

// TestIdempotencyAcrossStores verifies that idempotency enforcement is
// consistent across every CheckpointStore backend: saving a second
// checkpoint under a reused IdempotencyKey is rejected, while saving under
// a fresh key always succeeds.
func TestIdempotencyAcrossStores(t *testing.T) {
	for name, newStore := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := newStore(t)
			defer cleanup()

			threadID := "idempotency-test"
			cp1 := workflow.Checkpoint{
				CheckpointID:   "cp-1",
				ThreadID:       threadID,
				WorkflowID:     "wf1",
				CurrentNodeID:  "n1",
				Timestamp:      time.Now(),
				IdempotencyKey: "sha256:key-1",
			}
			dup := cp1
			dup.CheckpointID = "cp-1-retry"
			dup.CurrentNodeID = "n2"

			if err := st.SaveCheckpoint(ctx, cp1); err != nil {
				t.Fatalf("first checkpoint save failed: %v", err)
			}
			if err := st.SaveCheckpoint(ctx, dup); err == nil {
				t.Fatal("expected duplicate idempotency key to be rejected")
			}

			if _, err := st.LoadCheckpoint(ctx, "cp-1-retry"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("duplicate checkpoint should not have been saved, got err=%v", err)
			}

			cp2 := cp1
			cp2.CheckpointID = "cp-2"
			cp2.IdempotencyKey = "sha256:key-2"
			if err := st.SaveCheckpoint(ctx, cp2); err != nil {
				t.Errorf("checkpoint with a fresh idempotency key should succeed: %v", err)
			}
		})
	}
}

// TestStoreContractConsistency verifies save/load/delete/list behave
// identically across backends.
func TestStoreContractConsistency(t *testing.T) {
	for name, newStore := range backendFactories() {
		t.Run(name+"/SaveAndLoad", func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := newStore(t)
			defer cleanup()

			cp := workflow.Checkpoint{
				CheckpointID:   "cp-1",
				ThreadID:       "t1",
				WorkflowID:     "wf1",
				CurrentNodeID:  "n1",
				Timestamp:      time.Now().UTC().Truncate(time.Second),
				Metadata:       map[string]any{"note": "hello"},
				IdempotencyKey: "sha256:abc",
			}
			if err := st.SaveCheckpoint(ctx, cp); err != nil {
				t.Fatalf("SaveCheckpoint failed: %v", err)
			}

			loaded, err := st.LoadCheckpoint(ctx, "cp-1")
			if err != nil {
				t.Fatalf("LoadCheckpoint failed: %v", err)
			}
			if loaded.ThreadID != cp.ThreadID || loaded.CurrentNodeID != cp.CurrentNodeID {
				t.Errorf("loaded checkpoint mismatch: got %+v", loaded)
			}
			if loaded.Metadata["note"] != "hello" {
				t.Errorf("expected metadata to round-trip, got %v", loaded.Metadata)
			}
		})

		t.Run(name+"/LoadMissingIsNotFound", func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := newStore(t)
			defer cleanup()

			if _, err := st.LoadCheckpoint(ctx, "nonexistent"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})

		t.Run(name+"/DeleteAndList", func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := newStore(t)
			defer cleanup()

			for i := 0; i < 3; i++ {
				cp := workflow.Checkpoint{
					CheckpointID:   string(rune('a' + i)),
					ThreadID:       "t1",
					Timestamp:      time.Now().Add(time.Duration(i) * time.Second),
					IdempotencyKey: "sha256:" + string(rune('a'+i)),
				}
				if err := st.SaveCheckpoint(ctx, cp); err != nil {
					t.Fatalf("SaveCheckpoint failed: %v", err)
				}
			}

			list, err := st.ListThreadCheckpoints(ctx, "t1")
			if err != nil {
				t.Fatalf("ListThreadCheckpoints failed: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("expected 3 checkpoints, got %d", len(list))
			}
			if list[0].Timestamp.Before(list[1].Timestamp) {
				t.Errorf("expected newest-first ordering")
			}

			if err := st.DeleteCheckpoint(ctx, "a"); err != nil {
				t.Fatalf("DeleteCheckpoint failed: %v", err)
			}
			list, err = st.ListThreadCheckpoints(ctx, "t1")
			if err != nil {
				t.Fatalf("ListThreadCheckpoints after delete failed: %v", err)
			}
			if len(list) != 2 {
				t.Errorf("expected 2 checkpoints after delete, got %d", len(list))
			}
		})
	}
}

func backendFactories() map[string]func(t *testing.T) (store.CheckpointStore, func()) {
	return map[string]func(t *testing.T) (store.CheckpointStore, func()){
		"MemoryStore": func(t *testing.T) (store.CheckpointStore, func()) {
			return store.NewMemoryStore(), func() {}
		},
		"SQLiteStore": func(t *testing.T) (store.CheckpointStore, func()) {
			dbPath := filepath.Join(t.TempDir(), "test.db")
			st, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				t.Fatalf("NewSQLiteStore failed: %v", err)
			}
			return st, func() { st.Close() }
		},
	}
}

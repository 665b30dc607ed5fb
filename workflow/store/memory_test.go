package store

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/flowcore/workflow"
)

func TestMemoryStoreSaveCheckpointOverwritesByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cp := testCheckpoint("cp-1", "t1", time.Now())
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	cp.CurrentNodeID = "n2"
	cp.IdempotencyKey = ""
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint overwrite: %v", err)
	}

	loaded, err := s.LoadCheckpoint(ctx, "cp-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.CurrentNodeID != "n2" {
		t.Errorf("expected overwrite to take effect, got %q", loaded.CurrentNodeID)
	}

	list, err := s.ListThreadCheckpoints(ctx, "t1")
	if err != nil {
		t.Fatalf("ListThreadCheckpoints: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected overwrite to not duplicate the thread index, got %d entries", len(list))
	}
}

func TestMemoryStoreDeleteUnknownIsNoop(t *testing.T) {
	s := NewMemoryStore()
	if err := s.DeleteCheckpoint(context.Background(), "nope"); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestMemoryStoreIsolatesMetadataAcrossThreads(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.SaveCheckpoint(ctx, workflow.Checkpoint{CheckpointID: "a", ThreadID: "t1", Timestamp: time.Now()})
	_ = s.SaveCheckpoint(ctx, workflow.Checkpoint{CheckpointID: "b", ThreadID: "t2", Timestamp: time.Now()})

	t1, _ := s.ListThreadCheckpoints(ctx, "t1")
	t2, _ := s.ListThreadCheckpoints(ctx, "t2")
	if len(t1) != 1 || len(t2) != 1 {
		t.Fatalf("expected 1 checkpoint per thread, got t1=%d t2=%d", len(t1), len(t2))
	}
}

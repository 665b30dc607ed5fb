// Package store provides durable persistence backends for workflow
// checkpoints.
package store

import (
	"context"
	"errors"

	"github.com/dshills/flowcore/workflow"
)

// ErrNotFound is returned when a requested checkpoint ID does not exist.
var ErrNotFound = errors.New("not found")

// CheckpointStore is the persistence contract every backend in this package
// satisfies. It mirrors workflow.CheckpointStore field-for-field so any of
// these backends plugs directly into workflow.NewCheckpointManagerWithStore
// with no adapter layer in between.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp workflow.Checkpoint) error
	LoadCheckpoint(ctx context.Context, checkpointID string) (workflow.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, checkpointID string) error
	ListThreadCheckpoints(ctx context.Context, threadID string) ([]workflow.Checkpoint, error)
}

var (
	_ CheckpointStore = (*MemoryStore)(nil)
	_ CheckpointStore = (*SQLiteStore)(nil)
)

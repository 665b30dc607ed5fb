package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/flowcore/workflow"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed CheckpointStore.
//
// It stores checkpoints in a single-file database, auto-migrating its
// schema on first use and running in WAL mode for concurrent reads.
// Designed for:
//   - Development and testing with zero external setup
//   - Single-process workflows that must survive a process restart
//   - Prototyping before migrating to a server-backed store
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path and
// migrates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id   TEXT PRIMARY KEY,
			thread_id       TEXT NOT NULL,
			workflow_id     TEXT NOT NULL,
			current_node_id TEXT NOT NULL,
			state_snapshot  TEXT NOT NULL,
			timestamp       DATETIME NOT NULL,
			metadata        TEXT,
			idempotency_key TEXT UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveCheckpoint upserts cp by CheckpointID.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp workflow.Checkpoint) error {
	snapshot, err := json.Marshal(cp.StateSnapshot)
	if err != nil {
		return fmt.Errorf("marshal state snapshot: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, thread_id, workflow_id, current_node_id, state_snapshot, timestamp, metadata, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			workflow_id = excluded.workflow_id,
			current_node_id = excluded.current_node_id,
			state_snapshot = excluded.state_snapshot,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata,
			idempotency_key = excluded.idempotency_key
	`, cp.CheckpointID, cp.ThreadID, cp.WorkflowID, cp.CurrentNodeID, string(snapshot), cp.Timestamp, string(metadata), nullableString(cp.IdempotencyKey))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves a checkpoint by ID.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, checkpointID string) (workflow.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, thread_id, workflow_id, current_node_id, state_snapshot, timestamp, metadata, idempotency_key
		FROM checkpoints WHERE checkpoint_id = ?
	`, checkpointID)
	return scanCheckpoint(row)
}

// DeleteCheckpoint removes a checkpoint. Deleting an unknown ID is a no-op.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, checkpointID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// ListThreadCheckpoints returns threadID's checkpoints, newest first.
func (s *SQLiteStore) ListThreadCheckpoints(ctx context.Context, threadID string) ([]workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, thread_id, workflow_id, current_node_id, state_snapshot, timestamp, metadata, idempotency_key
		FROM checkpoints WHERE thread_id = ? ORDER BY timestamp DESC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []workflow.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row *sql.Row) (workflow.Checkpoint, error) {
	cp, err := scanCheckpointRow(row)
	if err == sql.ErrNoRows {
		return workflow.Checkpoint{}, ErrNotFound
	}
	return cp, err
}

func scanCheckpointRows(rows *sql.Rows) (workflow.Checkpoint, error) {
	return scanCheckpointRow(rows)
}

func scanCheckpointRow(r rowScanner) (workflow.Checkpoint, error) {
	var (
		cp             workflow.Checkpoint
		snapshot       string
		metadata       sql.NullString
		idempotencyKey sql.NullString
		timestamp      time.Time
	)
	if err := r.Scan(&cp.CheckpointID, &cp.ThreadID, &cp.WorkflowID, &cp.CurrentNodeID, &snapshot, &timestamp, &metadata, &idempotencyKey); err != nil {
		return workflow.Checkpoint{}, err
	}
	cp.Timestamp = timestamp
	cp.IdempotencyKey = idempotencyKey.String

	if err := json.Unmarshal([]byte(snapshot), &cp.StateSnapshot); err != nil {
		return workflow.Checkpoint{}, fmt.Errorf("unmarshal state snapshot: %w", err)
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &cp.Metadata); err != nil {
			return workflow.Checkpoint{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return cp, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

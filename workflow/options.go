package workflow

import (
	"time"

	"github.com/dshills/flowcore/workflow/emit"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := workflow.NewEngine(wf,
//	    workflow.WithMaxSteps(200),
//	    workflow.WithTimeout(30*time.Second),
//	    workflow.WithCheckpointInterval(5),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they're applied to an Engine.
type engineConfig struct {
	maxSteps    int
	timeout     time.Duration
	cacheMaxEntries int

	checkpointEnabled       bool
	checkpointInterval      int
	checkpointMaxPerThread  int
	checkpointMaxTotal      int
	checkpointStore         CheckpointStore

	routingHistoryEnabled bool
	routingHistoryMax     int

	replayMode   bool
	strictReplay bool

	metrics     *PrometheusMetrics
	costTracker *CostTracker
	emitter     emit.Emitter
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxSteps:               1000,
		timeout:                0,
		cacheMaxEntries:        1024,
		checkpointEnabled:      true,
		checkpointInterval:     1,
		checkpointMaxPerThread: 10,
		checkpointMaxTotal:     1000,
		routingHistoryEnabled:  false,
		routingHistoryMax:      0,
		strictReplay:           true,
	}
}

// WithMaxSteps limits execution to prevent infinite loops (engine.max_steps,
// default 1000). A workflow that would execute more nodes than n fails with
// a BudgetExceeded error instead of running forever.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.maxSteps = n
		return nil
	}
}

// WithTimeout sets the wall-clock budget for one Execute call
// (engine.timeout_ms). Zero (the default) means unbounded. When exceeded,
// Execute returns a Timeout error and the execution's context is cancelled.
func WithTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.timeout = d
		return nil
	}
}

// WithCacheMaxEntries bounds the expression evaluator's compiled-program
// cache (evaluator.cache_max_entries, default 1024).
func WithCacheMaxEntries(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.cacheMaxEntries = n
		return nil
	}
}

// WithEnableCheckpoints turns automatic checkpointing on or off. Enabled by
// default; disabling it also disables ResumeFromCheckpoint for threads run
// under this engine.
func WithEnableCheckpoints(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.checkpointEnabled = enabled
		return nil
	}
}

// WithCheckpointInterval sets how many executed steps elapse between
// automatic checkpoints (engine.checkpoint_interval_steps). A value of 1
// checkpoints after every step; 0 disables automatic checkpointing (manual
// checkpoints via the CheckpointManager are still possible).
func WithCheckpointInterval(steps int) Option {
	return func(cfg *engineConfig) error {
		cfg.checkpointInterval = steps
		return nil
	}
}

// WithCheckpointBounds sets the Checkpoint Manager's per-thread and global
// retention bounds (checkpoint.max_per_thread default 10,
// checkpoint.max_total default 1000).
func WithCheckpointBounds(maxPerThread, maxTotal int) Option {
	return func(cfg *engineConfig) error {
		cfg.checkpointMaxPerThread = maxPerThread
		cfg.checkpointMaxTotal = maxTotal
		return nil
	}
}

// WithCheckpointStore backs the engine's Checkpoint Manager with a durable
// CheckpointStore (e.g. workflow/store's SQLiteStore or MemoryStore): every
// automatic or manual checkpoint is mirrored there, and a checkpoint no
// longer held in the bounded in-memory index is read back through it. Nil
// (the default) keeps checkpoints in-memory only.
func WithCheckpointStore(store CheckpointStore) Option {
	return func(cfg *engineConfig) error {
		cfg.checkpointStore = store
		return nil
	}
}

// WithRoutingHistory enables the Conditional Router's bounded per-thread
// routing history, capped at max entries (0 means unbounded while enabled).
func WithRoutingHistory(enabled bool, max int) Option {
	return func(cfg *engineConfig) error {
		cfg.routingHistoryEnabled = enabled
		cfg.routingHistoryMax = max
		return nil
	}
}

// WithReplayMode sets the replay-mode flag that Engine.ReplayMode reports.
//
// Default: false.
//
// The engine stores the flag and does not act on it: handlers run live
// either way. Recorded I/O is captured with Engine.RecordIO, read back with
// Engine.LookupRecordedIO and checked with Engine.VerifyReplayHash.
func WithReplayMode(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.replayMode = enabled
		return nil
	}
}

// WithStrictReplay sets the strict-replay flag that Engine.StrictReplay
// reports.
//
// Default: true. The engine stores the flag and does not act on it;
// Engine.VerifyReplayHash returns ErrReplayMismatch on a hash mismatch
// whatever its value.
func WithStrictReplay(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.strictReplay = enabled
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection. See PrometheusMetrics
// for the metrics exposed.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithCostTracker enables LLM cost tracking with static pricing.
//
// Example:
//
//	tracker := workflow.NewCostTracker("thread-123", "USD")
//	engine := workflow.NewEngine(wf, workflow.WithCostTracker(tracker))
func WithCostTracker(tracker *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.costTracker = tracker
		return nil
	}
}

// WithEmitter installs an observability Emitter. The engine emits
// "node_start", "node_end", and "node_error" events as it dispatches each
// node; nil (the default) disables emission entirely.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = e
		return nil
	}
}

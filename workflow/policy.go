package workflow

import (
	"math/rand"
	"time"

	"github.com/dshills/flowcore/workflow/errs"
)

// NodePolicy configures the retry behavior the engine enforces around one node's handler invocation (spec §7 propagation
// policy: "handler errors follow the node's retry policy... until
// exhausted").
type NodePolicy struct {
	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, a handler failure is fatal on the first attempt.
	RetryPolicy *RetryPolicy

	// IdempotencyKeyFunc generates a custom idempotency key from a node's
	// input state. The engine does not call it; setting it has no effect on
	// execution or checkpointing.
	IdempotencyKeyFunc func(state WorkflowState) string
}

// RetryPolicy configures exponential-backoff-with-jitter retry for one
// node's handler.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including
	// the initial attempt). Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth of the backoff delay.
	MaxDelay time.Duration

	// Retryable decides whether a given handler error should be retried.
	// If nil, no error is retried regardless of MaxAttempts.
	Retryable func(error) bool
}

// SideEffectPolicy declares a node's external-I/O characteristics
// (SPEC_FULL §12 "Deterministic replay"). Nothing in the engine reads it:
// Engine.RecordIO records any node's I/O, and neither field changes how a
// handler runs.
type SideEffectPolicy struct {
	// Recordable marks a node's I/O as capturable via Engine.RecordIO.
	Recordable bool

	// RequiresIdempotency marks a node as needing an idempotency key before
	// its handler may run more than once for the same logical step.
	RequiresIdempotency bool
}

// computeBackoff returns the delay before a retry attempt, using
// exponential backoff capped at maxDelay plus jitter in [0, base). rng may
// be nil, in which case the package-level math/rand source is used — retry
// timing has no bearing on the engine's determinism guarantees (those cover
// routing and state transitions, not wall-clock backoff).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if base <= 0 {
		return delay
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry jitter, not security-sensitive
	}
	return delay + jitter
}

// Validate reports whether rp's bounds are internally consistent.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return errs.New(errs.Validation, "policy", "RetryPolicy.MaxAttempts must be >= 1")
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return errs.New(errs.Validation, "policy", "RetryPolicy.MaxDelay must be >= BaseDelay")
	}
	return nil
}

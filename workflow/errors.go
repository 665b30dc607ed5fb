package workflow

import "github.com/dshills/flowcore/workflow/errs"

// EngineError is the structured error type returned across the workflow
// package's public API (spec §7). It is a type alias for errs.Error so that
// callers of workflow and callers of its leaf packages (expr, store, emit)
// see the same concrete type through errors.As.
type EngineError = errs.Error

// Re-exported error kinds, so callers branch on workflow.Validation instead
// of reaching into workflow/errs directly.
const (
	Validation     = errs.Validation
	NotFound       = errs.NotFound
	Conflict       = errs.Conflict
	Timeout        = errs.Timeout
	Cancelled      = errs.Cancelled
	BudgetExceeded = errs.BudgetExceeded
	Handler        = errs.Handler
	Internal       = errs.Internal
)

// NewError constructs an *EngineError with no wrapped cause.
func NewError(kind errs.Kind, component, message string) *EngineError {
	return errs.New(kind, component, message)
}

// WrapError constructs an *EngineError wrapping cause.
func WrapError(kind errs.Kind, component, message string, cause error) *EngineError {
	return errs.Wrap(kind, component, message, cause)
}

// KindOf extracts the Kind of err if it is (or wraps) an *EngineError.
func KindOf(err error) (errs.Kind, bool) {
	return errs.KindOf(err)
}

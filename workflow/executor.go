package workflow

import (
	"context"
)

// HandlerResult is what a node Handler produces (spec §4.5).
type HandlerResult struct {
	Success  bool
	Output   any
	Err      error
	Metadata map[string]any
}

// Handler is the external-collaborator contract for realizing a non-marker
// node kind. Handlers must be deterministic with respect to their inputs
// for replay/tests to be reproducible (spec §6); non-deterministic handlers
// (llm/tool) are tolerated but must be mocked in tests.
type Handler interface {
	CanExecute(node Node, state WorkflowState) bool
	Execute(ctx context.Context, node Node, state WorkflowState) (HandlerResult, error)
}

// HandlerFunc adapts a function to the Handler interface when CanExecute
// should always return true.
type HandlerFunc func(ctx context.Context, node Node, state WorkflowState) (HandlerResult, error)

// CanExecute always returns true for a bare HandlerFunc.
func (f HandlerFunc) CanExecute(Node, WorkflowState) bool { return true }

// Execute invokes f.
func (f HandlerFunc) Execute(ctx context.Context, node Node, state WorkflowState) (HandlerResult, error) {
	return f(ctx, node, state)
}

// Executor is the capability-based dispatch map from node kind to Handler
// (spec §4.5). Built-in marker kinds (start/end/condition/fork/join/
// subworkflow/loop_start/loop_end) have default handlers pre-registered;
// opaque kinds (llm/tool/data_transform/wait/user_interaction/custom) must
// be registered by the caller before Execute is used against them.
type Executor struct {
	handlers map[NodeKind]Handler
}

// NewExecutor constructs an Executor with the built-in marker handlers
// registered.
func NewExecutor() *Executor {
	e := &Executor{handlers: map[NodeKind]Handler{}}
	e.Register(NodeStart, markerHandler())
	e.Register(NodeEnd, markerHandler())
	e.Register(NodeCondition, markerHandler())
	e.Register(NodeFork, markerHandler())
	e.Register(NodeJoin, markerHandler())
	e.Register(NodeSubworkflow, markerHandler())
	e.Register(NodeLoopStart, markerHandler())
	e.Register(NodeLoopEnd, markerHandler())
	return e
}

// Register installs handler for kind, replacing any prior registration.
func (e *Executor) Register(kind NodeKind, handler Handler) {
	e.handlers[kind] = handler
}

// Handler returns the registered handler for kind, if any.
func (e *Executor) Handler(kind NodeKind) (Handler, bool) {
	h, ok := e.handlers[kind]
	return h, ok
}

// CanExecute reports whether a handler is registered for node.Kind and that
// handler's CanExecute agrees.
func (e *Executor) CanExecute(node Node, state WorkflowState) bool {
	h, ok := e.handlers[node.Kind]
	if !ok {
		return false
	}
	return h.CanExecute(node, state)
}

// Execute dispatches node to its registered handler. An unregistered kind
// is reported as a Handler-kind failure rather than a panic, keeping the
// engine loop's error handling uniform (spec §7: "a node handler reported
// failure").
func (e *Executor) Execute(ctx context.Context, node Node, state WorkflowState) (HandlerResult, error) {
	h, ok := e.handlers[node.Kind]
	if !ok {
		return HandlerResult{Success: false, Err: unregisteredKindErr(node.Kind)}, nil
	}
	return h.Execute(ctx, node, state)
}

func markerHandler() Handler {
	return HandlerFunc(func(_ context.Context, node Node, _ WorkflowState) (HandlerResult, error) {
		return HandlerResult{Success: true, Output: nil, Metadata: map[string]any{"marker_kind": string(node.Kind)}}, nil
	})
}

func unregisteredKindErr(kind NodeKind) error {
	return handlerNotRegisteredError{kind: kind}
}

type handlerNotRegisteredError struct{ kind NodeKind }

func (e handlerNotRegisteredError) Error() string {
	return "no handler registered for node kind " + string(e.kind)
}

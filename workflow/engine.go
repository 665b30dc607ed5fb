package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/flowcore/workflow/emit"
	"github.com/dshills/flowcore/workflow/errs"
	"github.com/dshills/flowcore/workflow/expr"
	"github.com/dshills/flowcore/workflow/id"
)

// Engine is the Workflow Engine scheduler (spec §4.8): a cooperative,
// mostly-single-threaded step loop over one Workflow's node/edge graph,
// with opt-in parallelism only at fork barriers (spec §5). One Engine binds
// to one Workflow and may run many threads concurrently — each thread owns
// its own WorkflowState and threads never observe each other's writes
// except through an explicit fork/join.
type Engine struct {
	workflow    *Workflow
	executor    *Executor
	router      *Router
	evaluator   *expr.Evaluator
	checkpoints *CheckpointManager
	history     *HistoryManager
	clock       id.Clock
	cfg         engineConfig

	policiesMu sync.RWMutex
	policies   map[string]*NodePolicy

	replayMu  sync.Mutex
	replayLog map[string][]RecordedIO
}

// NewEngine constructs an Engine bound to wf and dispatching through
// executor. wf is validated before the Engine is returned.
func NewEngine(wf *Workflow, executor *Executor, opts ...Option) (*Engine, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	clock := id.NewMonotonicClock(nil)
	evaluator := expr.New(cfg.cacheMaxEntries)
	router := NewRouter(evaluator)
	if cfg.routingHistoryEnabled {
		router.EnableHistory(cfg.routingHistoryMax)
	}

	return &Engine{
		workflow:    wf,
		executor:    executor,
		router:      router,
		evaluator:   evaluator,
		checkpoints: NewCheckpointManagerWithStore(id.NewGenerator("checkpoint"), clock, cfg.checkpointMaxPerThread, cfg.checkpointMaxTotal, cfg.checkpointStore),
		history:     NewHistoryManager(id.NewGenerator("history"), clock),
		clock:       clock,
		cfg:         cfg,
		policies:    map[string]*NodePolicy{},
		replayLog:   map[string][]RecordedIO{},
	}, nil
}

// CheckpointManager returns the engine's Checkpoint Manager.
func (e *Engine) CheckpointManager() *CheckpointManager { return e.checkpoints }

// HistoryManager returns the engine's History Manager.
func (e *Engine) HistoryManager() *HistoryManager { return e.history }

// Router returns the engine's Conditional Router.
func (e *Engine) Router() *Router { return e.router }

// Evaluator returns the engine's Expression Evaluator.
func (e *Engine) Evaluator() *expr.Evaluator { return e.evaluator }

// Workflow returns the graph this engine executes.
func (e *Engine) Workflow() *Workflow { return e.workflow }

// SetNodePolicy installs the retry/idempotency policy applied to nodeID's
// handler invocations. A nil policy removes any previously set policy.
func (e *Engine) SetNodePolicy(nodeID string, policy *NodePolicy) {
	e.policiesMu.Lock()
	defer e.policiesMu.Unlock()
	if policy == nil {
		delete(e.policies, nodeID)
		return
	}
	e.policies[nodeID] = policy
}

func (e *Engine) policyFor(nodeID string) *NodePolicy {
	e.policiesMu.RLock()
	defer e.policiesMu.RUnlock()
	return e.policies[nodeID]
}

// RecordIO captures one external interaction so that it can later be read
// back with LookupRecordedIO; the engine does not replay it on its own, in
// replay mode or otherwise. Intended for handlers with Recordable side effects (spec §6,
// SPEC_FULL §12) to call directly rather than the engine doing it for them.
func (e *Engine) RecordIO(threadID, nodeID string, attempt int, request, response any, duration time.Duration) (RecordedIO, error) {
	rec, err := recordIO(nodeID, attempt, request, response, e.clock.Now(), duration)
	if err != nil {
		return RecordedIO{}, err
	}
	e.replayMu.Lock()
	e.replayLog[threadID] = append(e.replayLog[threadID], rec)
	e.replayMu.Unlock()
	return rec, nil
}

// LookupRecordedIO finds a previously recorded interaction for (nodeID,
// attempt) on threadID.
func (e *Engine) LookupRecordedIO(threadID, nodeID string, attempt int) (RecordedIO, bool) {
	e.replayMu.Lock()
	defer e.replayMu.Unlock()
	return lookupRecordedIO(e.replayLog[threadID], nodeID, attempt)
}

// VerifyReplayHash checks actualResponse against recorded's hash, returning
// ErrReplayMismatch on drift.
func (e *Engine) VerifyReplayHash(recorded RecordedIO, actualResponse any) error {
	return verifyReplayHash(recorded, actualResponse)
}

// ReplayMode reports whether this engine was configured with
// WithReplayMode(true).
func (e *Engine) ReplayMode() bool { return e.cfg.replayMode }

// StrictReplay reports the flag set by WithStrictReplay.
func (e *Engine) StrictReplay() bool { return e.cfg.strictReplay }

// ExecuteOptions overrides the engine's default configuration for one
// Execute or ResumeFromCheckpoint call (spec §4.8's `options` record).
type ExecuteOptions struct {
	// StartNodeID picks which start node to use when the workflow has more
	// than one in-degree-0 node. If empty, the lexicographically smallest
	// start node is used.
	StartNodeID string

	EnableCheckpoints  *bool
	CheckpointInterval *int
	MaxSteps           *int
	Timeout            *time.Duration
}

// ExecutionReport is the outcome of Execute/ResumeFromCheckpoint (spec
// §4.8). Success is always meaningful even when Error is non-nil-adjacent
// partial progress — FinalState reflects whatever the thread reached.
type ExecutionReport struct {
	Success         bool
	ExecutedNodes   []string
	FinalState      WorkflowState
	CheckpointCount int
	Error           error
}

func (cfg engineConfig) withOverrides(opts ExecuteOptions) engineConfig {
	next := cfg
	if opts.EnableCheckpoints != nil {
		next.checkpointEnabled = *opts.EnableCheckpoints
	}
	if opts.CheckpointInterval != nil {
		next.checkpointInterval = *opts.CheckpointInterval
	}
	if opts.MaxSteps != nil {
		next.maxSteps = *opts.MaxSteps
	}
	if opts.Timeout != nil {
		next.timeout = *opts.Timeout
	}
	return next
}

// Execute runs threadID from a fresh WorkflowState seeded with
// initialInputs, through the workflow's start node, until termination,
// budget exhaustion, cancellation, or timeout (spec §4.8).
func (e *Engine) Execute(ctx context.Context, threadID string, initialInputs map[string]any, opts ExecuteOptions) ExecutionReport {
	cfg := e.cfg.withOverrides(opts)

	startNodeID := opts.StartNodeID
	if startNodeID == "" {
		starts := e.workflow.StartNodes()
		if len(starts) == 0 {
			return ExecutionReport{Success: false, Error: errs.New(errs.Validation, "engine", "workflow has no start node")}
		}
		startNodeID = starts[0]
	}

	state, err := NewWorkflowState(e.workflow.WorkflowID, threadID, initialInputs, e.clock.Now())
	if err != nil {
		return ExecutionReport{Success: false, Error: err}
	}
	state.CurrentNodeID = startNodeID

	return e.run(ctx, state, cfg)
}

// ResumeFromCheckpoint restores threadID's WorkflowState from checkpointID
// and continues the step loop from the checkpoint's current_node_id (spec
// §4.8). An unknown checkpoint id fails with NotFound.
func (e *Engine) ResumeFromCheckpoint(ctx context.Context, checkpointID string, opts ExecuteOptions) ExecutionReport {
	state, err := e.checkpoints.Restore(checkpointID)
	if err != nil {
		return ExecutionReport{Success: false, Error: err}
	}
	cfg := e.cfg.withOverrides(opts)
	return e.run(ctx, state, cfg)
}

// run is the step loop shared by Execute and ResumeFromCheckpoint (spec
// §4.8 steps 2-3).
func (e *Engine) run(ctx context.Context, state WorkflowState, cfg engineConfig) ExecutionReport {
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	checkpointCount := 0
	step := 0

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(state, false, cancelledOrTimeoutError(err), checkpointCount)
		}
		if state.CurrentNodeID == "" {
			return e.finish(state, true, nil, checkpointCount)
		}
		if cfg.maxSteps > 0 && step >= cfg.maxSteps {
			return e.finish(state, false, errs.New(errs.BudgetExceeded, "engine", fmt.Sprintf("exceeded max_steps (%d)", cfg.maxSteps)), checkpointCount)
		}

		node, ok := e.workflow.Node(state.CurrentNodeID)
		if !ok {
			return e.finish(state, false, errs.New(errs.NotFound, "engine", fmt.Sprintf("unknown node %q", state.CurrentNodeID)), checkpointCount)
		}

		var nextState WorkflowState
		var stepErr error
		if node.Kind == NodeFork {
			nextState, stepErr = e.runFork(ctx, node, state, cfg)
		} else {
			nextState, stepErr = e.executeOne(ctx, node, state, cfg)
		}
		state = nextState
		if stepErr != nil {
			return e.finish(state, false, stepErr, checkpointCount)
		}
		step++

		if cfg.checkpointEnabled && cfg.checkpointInterval > 0 && step%cfg.checkpointInterval == 0 {
			if ctx.Err() == nil {
				if _, cpErr := e.checkpoints.Create(state.ThreadID, state.WorkflowID, step, state, nil); cpErr == nil {
					checkpointCount++
				}
			}
		}

		if state.CurrentNodeID == "" {
			return e.finish(state, true, nil, checkpointCount)
		}
	}
}

func (e *Engine) finish(state WorkflowState, success bool, err error, checkpointCount int) ExecutionReport {
	end := e.clock.Now()
	state.EndTime = &end
	return ExecutionReport{
		Success:         success,
		ExecutedNodes:   append([]string{}, state.ExecutedNodes...),
		FinalState:      state,
		CheckpointCount: checkpointCount,
		Error:           err,
	}
}

// executeOne dispatches one non-fork node and, on success, routes to the
// next node via the Conditional Router (spec §4.8 steps a-e). On handler
// failure it routes along an `error`-kind outgoing edge if one exists,
// otherwise the error is fatal for the run.
func (e *Engine) executeOne(ctx context.Context, node Node, state WorkflowState, cfg engineConfig) (WorkflowState, error) {
	state, result, err := e.dispatchNode(ctx, node, state, cfg)
	if err != nil {
		if errEdge, ok := findErrorEdge(e.workflow.OutgoingEdges(node.NodeID)); ok {
			state.ExecutionCtx = errEdge.ContextFilter.Apply(state.ExecutionCtx, e.evaluator)
			state.CurrentNodeID = errEdge.ToNodeID
			return state, nil
		}
		return state, err
	}

	e.trackCost(node, result)

	if node.Kind == NodeEnd {
		state.CurrentNodeID = ""
		return state, nil
	}

	edges := e.workflow.OutgoingEdges(node.NodeID)
	decision := e.router.Route(state.WorkflowID, edges, state.ExecutionCtx.Variables(), true)
	for _, edgeID := range decision.SatisfiedEdges {
		if edge, ok := e.workflow.Edge(edgeID); ok {
			state.ExecutionCtx = edge.ContextFilter.Apply(state.ExecutionCtx, e.evaluator)
		}
	}
	if len(decision.NextNodeIDs) == 0 {
		state.CurrentNodeID = ""
	} else {
		state.CurrentNodeID = decision.NextNodeIDs[0]
	}
	return state, nil
}

// dispatchNode marks node running, invokes its handler under the node's
// retry policy, records the outcome to the History Manager and
// WorkflowState, and reports metrics. It does not route — callers (executeOne,
// runFork, runBranch) decide what dispatching a node means for control flow.
func (e *Engine) dispatchNode(ctx context.Context, node Node, state WorkflowState, cfg engineConfig) (WorkflowState, HandlerResult, error) {
	if err := ctx.Err(); err != nil {
		return state, HandlerResult{}, cancelledOrTimeoutError(err)
	}

	start := e.clock.Now()
	state = withRunningMark(state, node.NodeID, start)
	e.history.Record(state.ThreadID, node.NodeID, HistoryRunning, nil, nil)
	e.emitEvent(state.ThreadID, node.NodeID, "node_start", nil)

	policy := e.policyFor(node.NodeID)
	result, attempts, invokeErr := e.executeWithRetry(ctx, node, state, policy, cfg)

	end := e.clock.Now()
	duration := end.Sub(start)

	if invokeErr != nil || !result.Success {
		nodeErr := handlerError(node, result, invokeErr)
		state = state.withNodeState(node.NodeID, NodeExecutionState{
			Status:    ExecFailed,
			Start:     &start,
			End:       &end,
			Duration:  duration,
			Error:     nodeErr.Error(),
			RetryInfo: RetryInfo{Attempts: attempts},
		})
		e.history.Record(state.ThreadID, node.NodeID, HistoryFailure, nil, map[string]any{"error": nodeErr.Error()})
		e.emitEvent(state.ThreadID, node.NodeID, "node_error", map[string]any{"error": nodeErr.Error()})
		if e.cfg.metrics != nil {
			e.cfg.metrics.RecordStepLatency(state.ThreadID, node.NodeID, duration, "error")
		}
		return state, result, nodeErr
	}

	state.ExecutionCtx = state.ExecutionCtx.SetNodeResult(node.NodeID, result.Output)
	state = state.withNodeState(node.NodeID, NodeExecutionState{
		Status:    ExecCompleted,
		Start:     &start,
		End:       &end,
		Duration:  duration,
		Result:    result.Output,
		RetryInfo: RetryInfo{Attempts: attempts},
	})
	e.history.Record(state.ThreadID, node.NodeID, HistorySuccess, result.Output, result.Metadata)
	e.emitEvent(state.ThreadID, node.NodeID, "node_end", map[string]any{"duration_ms": duration.Milliseconds()})
	if e.cfg.metrics != nil {
		e.cfg.metrics.RecordStepLatency(state.ThreadID, node.NodeID, duration, "success")
	}
	return state, result, nil
}

// withRunningMark records node's NodeExecutionState as running without
// appending to ExecutedNodes — that append happens once, when dispatchNode
// records the node's terminal (completed/failed) state, so a node is
// counted exactly once toward the engine's step budget regardless of how
// many lifecycle transitions it passes through.
func withRunningMark(s WorkflowState, nodeID string, start time.Time) WorkflowState {
	next := s
	next.NodeStates = make(map[string]NodeExecutionState, len(s.NodeStates))
	for k, v := range s.NodeStates {
		next.NodeStates[k] = v
	}
	next.NodeStates[nodeID] = NodeExecutionState{Status: ExecRunning, Start: &start}
	return next
}

// executeWithRetry invokes node's handler, retrying per policy's
// RetryPolicy (exponential backoff with jitter, policy.go) until success,
// an unretryable error, or attempts are exhausted.
func (e *Engine) executeWithRetry(ctx context.Context, node Node, state WorkflowState, policy *NodePolicy, cfg engineConfig) (HandlerResult, int, error) {
	maxAttempts := 1
	var rp *RetryPolicy
	if policy != nil && policy.RetryPolicy != nil {
		rp = policy.RetryPolicy
		if rp.MaxAttempts > 0 {
			maxAttempts = rp.MaxAttempts
		}
	}

	var lastResult HandlerResult
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastResult, attempt, cancelledOrTimeoutError(err)
		}

		result, err := e.executor.Execute(ctx, node, state)
		if err == nil && result.Success {
			return result, attempt, nil
		}
		lastResult, lastErr = result, err

		if attempt == maxAttempts || rp == nil || rp.Retryable == nil {
			break
		}
		failCause := err
		if failCause == nil {
			failCause = result.Err
		}
		if !rp.Retryable(failCause) {
			break
		}
		if e.cfg.metrics != nil {
			e.cfg.metrics.IncrementRetries(state.ThreadID, node.NodeID, "retryable_error")
		}

		delay := computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay, nil)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastResult, attempt, cancelledOrTimeoutError(ctx.Err())
		case <-timer.C:
		}
	}
	return lastResult, maxAttempts, lastErr
}

func (e *Engine) trackCost(node Node, result HandlerResult) {
	if e.cfg.costTracker == nil || node.Kind != NodeLLM || result.Metadata == nil {
		return
	}
	model, _ := result.Metadata["model"].(string)
	inputTokens, _ := result.Metadata["input_tokens"].(int)
	outputTokens, _ := result.Metadata["output_tokens"].(int)
	if model == "" {
		return
	}
	_ = e.cfg.costTracker.RecordLLMCall(model, inputTokens, outputTokens, node.NodeID)
}

func (e *Engine) emitEvent(threadID, nodeID, msg string, meta map[string]any) {
	if e.cfg.emitter == nil {
		return
	}
	e.cfg.emitter.Emit(emit.Event{ThreadID: threadID, NodeID: nodeID, Msg: msg, Meta: meta})
}

func handlerError(node Node, result HandlerResult, invokeErr error) error {
	if invokeErr != nil {
		return errs.Wrap(errs.Handler, "engine", fmt.Sprintf("node %q handler error", node.NodeID), invokeErr)
	}
	if result.Err != nil {
		return errs.Wrap(errs.Handler, "engine", fmt.Sprintf("node %q reported failure", node.NodeID), result.Err)
	}
	return errs.New(errs.Handler, "engine", fmt.Sprintf("node %q reported failure", node.NodeID))
}

func findErrorEdge(edges []Edge) (Edge, bool) {
	for _, e := range sortedEdges(edges) {
		if e.Kind == EdgeError {
			return e, true
		}
	}
	return Edge{}, false
}

func cancelledOrTimeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Timeout, "engine", "execution exceeded its timeout budget", err)
	}
	return errs.Wrap(errs.Cancelled, "engine", "execution was cancelled", err)
}

// ---- Fork/Join (spec §4.11) ----

// branchOutcome is one fork branch's terminal result, carrying the
// finish-sequence number used to break "later-finishing branch wins" merge
// ties deterministically.
type branchOutcome struct {
	branchID   string
	state      WorkflowState
	joinNodeID string
	seq        int64
	err        error
}

// runFork dispatches a fork node, fans its satisfied branch edges out into
// independently executing goroutines (each given a shallow copy of state up
// to the fork point), and waits for every branch to reach the same join
// node before merging (spec §5: "opt-in parallelism at fork barriers").
func (e *Engine) runFork(ctx context.Context, forkNode Node, state WorkflowState, cfg engineConfig) (WorkflowState, error) {
	state, _, err := e.dispatchNode(ctx, forkNode, state, cfg)
	if err != nil {
		return state, err
	}

	edges := e.workflow.OutgoingEdges(forkNode.NodeID)
	decision := e.router.RouteMultiple(state.WorkflowID, edges, state.ExecutionCtx.Variables())
	if len(decision.NextNodeIDs) == 0 {
		return state, errs.New(errs.Validation, "engine", fmt.Sprintf("fork node %q has no satisfied branch edges", forkNode.NodeID))
	}

	n := len(decision.NextNodeIDs)
	results := make(chan branchOutcome, n)
	var wg sync.WaitGroup
	var seqCounter atomic.Int64

	if e.cfg.metrics != nil {
		e.cfg.metrics.UpdateInflightBranches(n)
	}

	for i, startNodeID := range decision.NextNodeIDs {
		branchID := decision.SatisfiedEdges[i]
		branchState := state
		branchState.CurrentNodeID = startNodeID

		wg.Add(1)
		go func(branchID string, branchState WorkflowState) {
			defer wg.Done()
			finalState, joinNodeID, branchErr := e.runBranch(ctx, branchState, cfg)
			seq := seqCounter.Add(1)
			results <- branchOutcome{branchID: branchID, state: finalState, joinNodeID: joinNodeID, seq: seq, err: branchErr}
		}(branchID, branchState)
	}

	wg.Wait()
	close(results)
	if e.cfg.metrics != nil {
		e.cfg.metrics.UpdateInflightBranches(0)
	}

	outcomes := make([]branchOutcome, 0, n)
	for r := range results {
		outcomes = append(outcomes, r)
	}
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].seq != outcomes[j].seq {
			return outcomes[i].seq < outcomes[j].seq
		}
		return outcomes[i].branchID < outcomes[j].branchID
	})

	for _, o := range outcomes {
		if o.err != nil {
			return state, o.err
		}
	}

	joinNodeID := outcomes[0].joinNodeID
	for _, o := range outcomes[1:] {
		if o.joinNodeID != joinNodeID {
			return state, errs.New(errs.Validation, "engine", fmt.Sprintf("fork %q branches converged at different join nodes (%q vs %q)", forkNode.NodeID, joinNodeID, o.joinNodeID))
		}
	}

	merged := e.mergeBranches(state, outcomes)
	merged.CurrentNodeID = joinNodeID
	return merged, nil
}

// runBranch executes a fork branch's subgraph node by node until it reaches
// a join (returned, not executed — the barrier in runFork executes it once
// for all converged branches) or fails (spec §4.11: "orphan branches...
// cause the whole execution to fail"). Nested forks recurse back through
// runFork.
func (e *Engine) runBranch(ctx context.Context, state WorkflowState, cfg engineConfig) (WorkflowState, string, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return state, "", cancelledOrTimeoutError(err)
		}
		if state.CurrentNodeID == "" {
			return state, "", errs.New(errs.Validation, "engine", "fork branch reached a dead end without reaching a join")
		}
		if cfg.maxSteps > 0 && steps >= cfg.maxSteps {
			return state, "", errs.New(errs.BudgetExceeded, "engine", "fork branch exceeded max_steps before reaching a join")
		}

		node, ok := e.workflow.Node(state.CurrentNodeID)
		if !ok {
			return state, "", errs.New(errs.NotFound, "engine", fmt.Sprintf("unknown node %q", state.CurrentNodeID))
		}
		if node.Kind == NodeJoin {
			return state, node.NodeID, nil
		}

		var nextState WorkflowState
		var err error
		if node.Kind == NodeFork {
			nextState, err = e.runFork(ctx, node, state, cfg)
		} else {
			nextState, err = e.executeOne(ctx, node, state, cfg)
		}
		if err != nil {
			return state, "", err
		}
		state = nextState
		steps++
	}
}

// mergeBranches applies each branch's writes (relative to parent, the
// pre-fork state) onto parent in ascending finish order, so a
// later-finishing branch's write wins on a key both branches touched (spec
// §4.11). node_results and node execution states are merged by union keyed
// by node id.
func (e *Engine) mergeBranches(parent WorkflowState, outcomes []branchOutcome) WorkflowState {
	merged := parent.ExecutionCtx
	nodeStates := make(map[string]NodeExecutionState, len(parent.NodeStates))
	for k, v := range parent.NodeStates {
		nodeStates[k] = v
	}

	parentVars := parent.ExecutionCtx.Variables()
	parentResults := parent.ExecutionCtx.NodeResults()
	parentExecuted := make(map[string]bool, len(parent.ExecutedNodes))
	for _, nodeID := range parent.ExecutedNodes {
		parentExecuted[nodeID] = true
	}

	writerOf := map[string]string{}
	seenExecuted := map[string]bool{}
	// outcomes is already sorted by ascending finish sequence (runFork), so
	// appending each branch's new ExecutedNodes in order keeps the merged
	// list deterministic regardless of goroutine scheduling.
	executedNodes := append([]string{}, parent.ExecutedNodes...)

	for _, o := range outcomes {
		for k, v := range o.state.ExecutionCtx.Variables() {
			if pv, inherited := parentVars[k]; inherited && reflect.DeepEqual(pv, v) {
				continue
			}
			if prevWriter, seen := writerOf[k]; seen && prevWriter != o.branchID && e.cfg.metrics != nil {
				e.cfg.metrics.IncrementMergeConflicts(parent.ThreadID, "variable_conflict")
			}
			writerOf[k] = o.branchID
			merged, _ = merged.SetVariable(k, v)
		}
		for nodeID, v := range o.state.ExecutionCtx.NodeResults() {
			if _, inherited := parentResults[nodeID]; inherited {
				continue
			}
			merged = merged.SetNodeResult(nodeID, v)
		}
		for nodeID, ns := range o.state.NodeStates {
			if _, inherited := parent.NodeStates[nodeID]; inherited {
				continue
			}
			nodeStates[nodeID] = ns
		}
		for _, nodeID := range o.state.ExecutedNodes {
			if parentExecuted[nodeID] || seenExecuted[nodeID] {
				continue
			}
			seenExecuted[nodeID] = true
			executedNodes = append(executedNodes, nodeID)
		}
	}

	next := parent
	next.ExecutionCtx = merged
	next.NodeStates = nodeStates
	next.ExecutedNodes = executedNodes
	return next
}

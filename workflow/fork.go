package workflow

import (
	"fmt"
	"time"

	"github.com/dshills/flowcore/workflow/errs"
	"github.com/dshills/flowcore/workflow/id"
)

// RetentionStrategy selects how much of a thread's state a Fork or Copy
// operation carries forward into the new thread (spec §4.9/§4.10).
type RetentionStrategy string

const (
	RetentionFull    RetentionStrategy = "full"
	RetentionPartial RetentionStrategy = "partial"
	RetentionMinimal RetentionStrategy = "minimal"
)

// Validate reports whether s is one of the three recognized strategies.
func (s RetentionStrategy) Validate() error {
	switch s {
	case RetentionFull, RetentionPartial, RetentionMinimal:
		return nil
	default:
		return errs.New(errs.Validation, "fork", fmt.Sprintf("unknown retention strategy %q", s))
	}
}

// NodeStateHandling selects which per-node execution records a Fork carries
// into the forked thread, refining RetentionStrategy's node-snapshot plan
// (spec §4.9 step 3).
type NodeStateHandling string

const (
	NodeStateCopy    NodeStateHandling = "copy"
	NodeStateInherit NodeStateHandling = "inherit"
	NodeStateReset   NodeStateHandling = "reset"
)

// Validate reports whether h is one of the three recognized handlings.
func (h NodeStateHandling) Validate() error {
	switch h {
	case NodeStateCopy, NodeStateInherit, NodeStateReset:
		return nil
	default:
		return errs.New(errs.Validation, "fork", fmt.Sprintf("unknown node_state_handling %q", h))
	}
}

// isStableNodeStatus reports whether status is one a retention plan or
// node_state_handling is permitted to carry forward as "stable" (spec §4.9
// step 2: "only completed/skipped are stable").
func isStableNodeStatus(status ExecutionStatus) bool {
	return status == ExecCompleted || status == ExecSkipped
}

// ForkContext is the result of a Thread Fork: a fresh thread id plus the
// retention plan's projection of the parent at the fork point (spec §4.9
// step 4).
type ForkContext struct {
	ForkID            string
	ParentThreadID    string
	ForkedThreadID    string
	ForkPointNodeID   string
	Strategy          RetentionStrategy
	NodeStateHandling NodeStateHandling
	Timestamp         time.Time
	// Warnings records non-fatal validation notes (spec §4.9 step 1: "warn,
	// not fail" when the fork point hasn't executed yet).
	Warnings []string
	// State is the forked thread's initial WorkflowState: the retention
	// plan's projection of parent at fork_point, with CurrentNodeID left at
	// fork_point so the caller can continue stepping the new thread forward.
	State WorkflowState
}

// ForkManager performs Thread Fork operations (spec §4.9), producing a new,
// independently-steppable WorkflowState without mutating its parent.
type ForkManager struct {
	forkGen   *id.Generator
	threadGen *id.Generator
	clock     id.Clock
}

// NewForkManager constructs a ForkManager.
func NewForkManager(forkGen, threadGen *id.Generator, clock id.Clock) *ForkManager {
	return &ForkManager{forkGen: forkGen, threadGen: threadGen, clock: clock}
}

// Fork validates parent and forkPointNodeID against wf, then produces a
// ForkContext whose State is strategy/handling's projection of parent at
// forkPointNodeID (spec §4.9). parent is never modified (spec §8 "Fork
// purity").
func (fm *ForkManager) Fork(wf *Workflow, parent WorkflowState, forkPointNodeID string, strategy RetentionStrategy, handling NodeStateHandling) (ForkContext, error) {
	if parent.EndTime != nil {
		return ForkContext{}, errs.New(errs.Conflict, "fork", fmt.Sprintf("thread %q is not active", parent.ThreadID))
	}
	if _, ok := wf.Node(forkPointNodeID); !ok {
		return ForkContext{}, errs.New(errs.Validation, "fork", fmt.Sprintf("fork point %q is not a node in the workflow", forkPointNodeID))
	}
	if err := strategy.Validate(); err != nil {
		return ForkContext{}, err
	}
	if err := handling.Validate(); err != nil {
		return ForkContext{}, err
	}

	var warnings []string
	if parent.nodeState(forkPointNodeID).Status == ExecPending {
		warnings = append(warnings, fmt.Sprintf("fork point %q has no execution record yet", forkPointNodeID))
	}

	projectedNodeStates := projectNodeStates(parent.NodeStates, strategy, handling)
	projectedCtx := projectExecutionContext(parent.ExecutionCtx, strategy, projectedNodeStates, fm.clock)
	projectedExecuted := projectExecutedNodes(parent.ExecutedNodes, projectedNodeStates, strategy)

	forked := WorkflowState{
		WorkflowID:    parent.WorkflowID,
		ThreadID:      fm.threadGen.New(),
		CurrentNodeID: forkPointNodeID,
		ExecutedNodes: projectedExecuted,
		StartTime:     fm.clock.Now(),
		ExecutionCtx:  projectedCtx,
		NodeStates:    projectedNodeStates,
	}

	return ForkContext{
		ForkID:            fm.forkGen.New(),
		ParentThreadID:    parent.ThreadID,
		ForkedThreadID:    forked.ThreadID,
		ForkPointNodeID:   forkPointNodeID,
		Strategy:          strategy,
		NodeStateHandling: handling,
		Timestamp:         forked.StartTime,
		Warnings:          warnings,
		State:             forked,
	}, nil
}

// projectNodeStates applies strategy's node-snapshot plan (spec §4.9 step 2)
// and then handling's refinement (step 3) to parent's NodeStates.
func projectNodeStates(parent map[string]NodeExecutionState, strategy RetentionStrategy, handling NodeStateHandling) map[string]NodeExecutionState {
	out := map[string]NodeExecutionState{}
	if strategy == RetentionMinimal || handling == NodeStateReset {
		return out
	}
	for nodeID, st := range parent {
		if strategy == RetentionPartial && !isStableNodeStatus(st.Status) {
			continue
		}
		if handling == NodeStateInherit && !isStableNodeStatus(st.Status) {
			continue
		}
		out[nodeID] = st
	}
	return out
}

// projectExecutedNodes keeps only the entries of parent's ExecutedNodes that
// survived node-state projection, preserving original order.
func projectExecutedNodes(parent []string, projectedNodeStates map[string]NodeExecutionState, strategy RetentionStrategy) []string {
	if strategy == RetentionMinimal {
		return nil
	}
	out := make([]string, 0, len(parent))
	for _, nodeID := range parent {
		if _, ok := projectedNodeStates[nodeID]; ok {
			out = append(out, nodeID)
		}
	}
	return out
}

// projectExecutionContext applies strategy's variable/prompt-history/
// metadata retention plan (spec §4.9 step 2) to parent, via a
// Snapshot/mutate/RestoreContext round-trip, and drops node_results/
// node_contexts for nodes that node-state projection excluded.
func projectExecutionContext(parent ExecutionContext, strategy RetentionStrategy, projectedNodeStates map[string]NodeExecutionState, clock id.Clock) ExecutionContext {
	snap := parent.Snapshot(clock)

	if strategy == RetentionMinimal {
		snap.Variables = map[string]any{}
		snap.PromptHistory = nil
		snap.NextIndex = 0
	}
	if strategy != RetentionFull {
		snap.Metadata = map[string]any{}
	}

	nodeResults := map[string]any{}
	nodeContexts := map[string]NodeContext{}
	for nodeID := range projectedNodeStates {
		if v, ok := snap.NodeResults[nodeID]; ok {
			nodeResults[nodeID] = v
		}
		if nc, ok := snap.NodeContexts[nodeID]; ok {
			nodeContexts[nodeID] = nc
		}
	}
	snap.NodeResults = nodeResults
	snap.NodeContexts = nodeContexts

	return RestoreContext(snap)
}

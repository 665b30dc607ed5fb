package workflow

import (
	"fmt"
	"time"

	"github.com/dshills/flowcore/workflow/errs"
	"github.com/dshills/flowcore/workflow/id"
)

// CopyStrategy selects how a Thread Copy duplicates its source thread
// (spec §4.10).
type CopyStrategy string

const (
	CopyFull      CopyStrategy = "full"
	CopyPartial   CopyStrategy = "partial"
	CopySelective CopyStrategy = "selective"
)

// Validate reports whether s is one of the three recognized strategies.
func (s CopyStrategy) Validate() error {
	switch s {
	case CopyFull, CopyPartial, CopySelective:
		return nil
	default:
		return errs.New(errs.Validation, "copy", fmt.Sprintf("unknown copy strategy %q", s))
	}
}

// CopyOptions configures a Thread Copy. SelectedNodeIDs is required (and
// must be non-empty) when Strategy is CopySelective; it is ignored
// otherwise.
type CopyOptions struct {
	Strategy        CopyStrategy
	SelectedNodeIDs []string
}

// ThreadCopy is the result of a Thread Copy operation: a fresh copy_id plus
// a relationship_mapping from every duplicated source identifier (the
// thread id and each retained node id) to its freshly-generated counterpart
// in the copy (spec §4.10).
type ThreadCopy struct {
	CopyID              string
	SourceThreadID      string
	Scope               CopyStrategy
	RelationshipMapping map[string]string
	Options             CopyOptions
	Timestamp           time.Time
	State               WorkflowState
}

// CopyManager performs Thread Copy operations, producing an independently
// steppable duplicate of a source thread without mutating the source.
type CopyManager struct {
	copyGen   *id.Generator
	threadGen *id.Generator
	nodeGen   *id.Generator
	clock     id.Clock
}

// NewCopyManager constructs a CopyManager.
func NewCopyManager(copyGen, threadGen, nodeGen *id.Generator, clock id.Clock) *CopyManager {
	return &CopyManager{copyGen: copyGen, threadGen: threadGen, nodeGen: nodeGen, clock: clock}
}

// Copy duplicates source per opts (spec §4.10). source is never modified.
func (cm *CopyManager) Copy(source WorkflowState, opts CopyOptions) (ThreadCopy, error) {
	if err := opts.Strategy.Validate(); err != nil {
		return ThreadCopy{}, err
	}
	if opts.Strategy == CopySelective && len(opts.SelectedNodeIDs) == 0 {
		return ThreadCopy{}, errs.New(errs.Validation, "copy", "selective strategy requires at least one selected node id")
	}

	selected := map[string]bool{}
	for _, nodeID := range opts.SelectedNodeIDs {
		selected[nodeID] = true
	}

	keepNode := func(nodeID string, st NodeExecutionState) bool {
		switch opts.Strategy {
		case CopyFull:
			return true
		case CopyPartial:
			return isStableNodeStatus(st.Status)
		case CopySelective:
			return selected[nodeID]
		default:
			return false
		}
	}

	relationshipMapping := map[string]string{}
	copyThreadID := cm.threadGen.New()
	relationshipMapping[source.ThreadID] = copyThreadID

	copiedNodeStates := map[string]NodeExecutionState{}
	for nodeID, st := range source.NodeStates {
		if !keepNode(nodeID, st) {
			continue
		}
		if opts.Strategy == CopyPartial {
			st = NodeExecutionState{Status: st.Status}
		}
		copiedNodeStates[nodeID] = st
		relationshipMapping[nodeID] = cm.nodeGen.New()
	}

	copiedExecuted := make([]string, 0, len(source.ExecutedNodes))
	for _, nodeID := range source.ExecutedNodes {
		if _, ok := copiedNodeStates[nodeID]; ok {
			copiedExecuted = append(copiedExecuted, nodeID)
		}
	}

	snap := source.ExecutionCtx.Snapshot(cm.clock)
	if opts.Strategy != CopyFull {
		snap.Metadata = map[string]any{}
	}
	if opts.Strategy == CopyPartial {
		snap.PromptHistory = nil
		snap.NextIndex = 0
	}
	nodeResults := map[string]any{}
	nodeContexts := map[string]NodeContext{}
	for nodeID := range copiedNodeStates {
		if v, ok := snap.NodeResults[nodeID]; ok {
			nodeResults[nodeID] = v
		}
		if nc, ok := snap.NodeContexts[nodeID]; ok {
			nodeContexts[nodeID] = nc
		}
	}
	snap.NodeResults = nodeResults
	snap.NodeContexts = nodeContexts

	now := cm.clock.Now()
	copied := WorkflowState{
		WorkflowID:    source.WorkflowID,
		ThreadID:      copyThreadID,
		CurrentNodeID: source.CurrentNodeID,
		ExecutedNodes: copiedExecuted,
		StartTime:     now,
		ExecutionCtx:  RestoreContext(snap),
		NodeStates:    copiedNodeStates,
	}

	return ThreadCopy{
		CopyID:              cm.copyGen.New(),
		SourceThreadID:       source.ThreadID,
		Scope:                opts.Strategy,
		RelationshipMapping: relationshipMapping,
		Options:              opts,
		Timestamp:            now,
		State:                copied,
	}, nil
}

package workflow

import (
	"time"

	"github.com/dshills/flowcore/workflow/id"
)

// ExecutionStatus is the lifecycle status of one node's execution within a
// WorkflowState (spec §3).
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecSkipped   ExecutionStatus = "skipped"
	ExecCancelled ExecutionStatus = "cancelled"
)

// RetryInfo records a handler's retry bookkeeping (spec §7 propagation
// policy: "handler errors follow the node's retry policy... until
// exhausted").
type RetryInfo struct {
	Attempts   int
	MaxRetries int
	LastError  string
}

// NodeExecutionState is one node's execution record within a WorkflowState.
type NodeExecutionState struct {
	Status    ExecutionStatus
	Start     *time.Time
	End       *time.Time
	Duration  time.Duration
	Result    any
	Error     string
	LLMCalls  int
	ToolCalls int
	Steps     int
	RetryInfo RetryInfo
}

// WorkflowState is the per-thread execution view produced and owned by the
// Workflow Engine (spec §3).
type WorkflowState struct {
	WorkflowID      string
	ThreadID        string
	CurrentNodeID   string
	ExecutedNodes   []string
	StartTime       time.Time
	EndTime         *time.Time
	ExecutionCtx    ExecutionContext
	NodeStates      map[string]NodeExecutionState
}

// NewWorkflowState constructs a fresh WorkflowState for threadID on
// workflowID, with an empty ExecutionContext seeded from initialInputs.
func NewWorkflowState(workflowID, threadID string, initialInputs map[string]any, startTime time.Time) (WorkflowState, error) {
	ctx := NewExecutionContext()
	for k, v := range initialInputs {
		var err error
		ctx, err = ctx.SetVariable(k, v)
		if err != nil {
			return WorkflowState{}, err
		}
	}
	return WorkflowState{
		WorkflowID:   workflowID,
		ThreadID:     threadID,
		ExecutedNodes: nil,
		StartTime:    startTime,
		ExecutionCtx: ctx,
		NodeStates:   map[string]NodeExecutionState{},
	}, nil
}

// nodeState returns the recorded NodeExecutionState for nodeID, defaulting
// to ExecPending if not yet touched.
func (s WorkflowState) nodeState(nodeID string) NodeExecutionState {
	if st, ok := s.NodeStates[nodeID]; ok {
		return st
	}
	return NodeExecutionState{Status: ExecPending}
}

// withNodeState returns a copy of s with nodeID's NodeExecutionState
// replaced and nodeID appended to ExecutedNodes.
func (s WorkflowState) withNodeState(nodeID string, st NodeExecutionState) WorkflowState {
	next := s
	next.NodeStates = make(map[string]NodeExecutionState, len(s.NodeStates))
	for k, v := range s.NodeStates {
		next.NodeStates[k] = v
	}
	next.NodeStates[nodeID] = st
	next.ExecutedNodes = append(append([]string{}, s.ExecutedNodes...), nodeID)
	return next
}

// Props is the structured, self-describing document a Checkpoint serializes
// (spec §6 "Persisted state layout").
type Props struct {
	WorkflowID      string
	ThreadID        string
	CurrentNodeID   string
	ExecutedNodes   []string
	ExecutionCtx    ContextSnapshot
	NodeStates      map[string]NodeExecutionState
	StartTime       time.Time
	EndTime         *time.Time
	Version         string
}

// ToProps renders s as its persisted-layout document (spec §6/§8's
// round-trip property: restore(snapshot(state)).toProps() == state.toProps()).
func (s WorkflowState) ToProps(clock id.Clock) Props {
	nodeStates := make(map[string]NodeExecutionState, len(s.NodeStates))
	for k, v := range s.NodeStates {
		nodeStates[k] = v
	}
	return Props{
		WorkflowID:    s.WorkflowID,
		ThreadID:      s.ThreadID,
		CurrentNodeID: s.CurrentNodeID,
		ExecutedNodes: append([]string{}, s.ExecutedNodes...),
		ExecutionCtx:  s.ExecutionCtx.Snapshot(clock),
		NodeStates:    nodeStates,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Version:       "1",
	}
}

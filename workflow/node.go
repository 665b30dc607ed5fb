package workflow

import (
	"time"

	"github.com/dshills/flowcore/workflow/id"
)

// NodeKind is the tagged variant discriminating what a Node does. Each kind
// implies a "context type" and degree constraints enforced by Workflow.Validate.
type NodeKind string

const (
	NodeStart         NodeKind = "start"
	NodeEnd           NodeKind = "end"
	NodeCondition     NodeKind = "condition"
	NodeLLM           NodeKind = "llm"
	NodeTool          NodeKind = "tool"
	NodeDataTransform NodeKind = "data_transform"
	NodeFork          NodeKind = "fork"
	NodeJoin          NodeKind = "join"
	NodeSubworkflow   NodeKind = "subworkflow"
	NodeLoopStart     NodeKind = "loop_start"
	NodeLoopEnd       NodeKind = "loop_end"
	NodeWait          NodeKind = "wait"
	NodeUserInteract  NodeKind = "user_interaction"
	NodeCustom        NodeKind = "custom"
)

// loopCapableKinds marks the node kinds for which a self-loop edge (from_node
// == to_node) is a legal structural pattern rather than a Validation error.
var loopCapableKinds = map[NodeKind]bool{
	NodeLoopStart: true,
	NodeLoopEnd:   true,
	NodeWait:      true,
	NodeCustom:    true,
}

// NodeStatus is the lifecycle state of a node within one thread's execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// Node is a unit of execution or structural marker in a Workflow graph.
type Node struct {
	NodeID     string
	Kind       NodeKind
	Name       string
	Properties map[string]any
	Status     NodeStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    id.Version
}

// NewNode constructs a Node with fresh bookkeeping fields. properties may be
// nil (treated as empty).
func NewNode(nodeID string, kind NodeKind, name string, properties map[string]any, clock id.Clock) Node {
	now := clock.Now()
	if properties == nil {
		properties = map[string]any{}
	}
	return Node{
		NodeID:     nodeID,
		Kind:       kind,
		Name:       name,
		Properties: properties,
		Status:     NodeStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    id.InitialVersion,
	}
}

// WithStatus returns a copy of n with Status updated, UpdatedAt advanced via
// clock, and Version patch-bumped — a structural-identity change, not a
// content mutation of the receiver.
func (n Node) WithStatus(status NodeStatus, clock id.Clock) Node {
	next := n
	next.Status = status
	next.UpdatedAt = clock.Now()
	next.Version = n.Version.NextPatch()
	return next
}

// allowsMultipleOutputs reports whether kind is permitted to have more than
// one outgoing edge outside of conditional routing (fork explicitly fans
// out; most other kinds route through the Router's single-target pick).
func (k NodeKind) allowsMultipleOutputs() bool {
	return k == NodeFork
}

// allowsMultipleInputs reports whether kind is permitted to have more than
// one incoming edge (join is the barrier convergence point).
func (k NodeKind) allowsMultipleInputs() bool {
	return k == NodeJoin
}

// isMarker reports whether kind is a structural marker whose handler (if
// any) produces only metadata — fork/join/subworkflow/loop boundaries — as
// opposed to a kind that delegates to an external collaborator handler.
func (k NodeKind) isMarker() bool {
	switch k {
	case NodeFork, NodeJoin, NodeSubworkflow, NodeLoopStart, NodeLoopEnd, NodeCondition, NodeStart, NodeEnd:
		return true
	default:
		return false
	}
}

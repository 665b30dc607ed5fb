package workflow

import (
	"fmt"
	"sort"

	"github.com/dshills/flowcore/workflow/errs"
	"github.com/dshills/flowcore/workflow/id"
)

// Workflow is the aggregate root: a directed graph of Nodes and Edges (spec
// §3, component #6). Nodes and Edges are owned by the Workflow; order of the
// backing maps is irrelevant, routing uses deterministic tiebreakers (§4.4).
type Workflow struct {
	WorkflowID  string
	Name        string
	Description string
	Version     id.Version

	nodes map[string]Node
	edges map[string]Edge

	// adjacency caches outgoing edges per node, built on first use by
	// ensureAdjacency and reset by AddNode/AddEdge (spec §9's "adjacency is
	// precomputed and cached alongside the arena" design note).
	outgoing map[string][]string // node_id -> edge_ids, sorted by EdgeID
}

// NewWorkflow constructs an empty Workflow shell; use AddNode/AddEdge to
// populate it, then Validate before execution.
func NewWorkflow(workflowID, name, description string) *Workflow {
	return &Workflow{
		WorkflowID:  workflowID,
		Name:        name,
		Description: description,
		Version:     id.InitialVersion,
		nodes:       map[string]Node{},
		edges:       map[string]Edge{},
	}
}

// AddNode registers n, keyed by its NodeID. A later call with the same id
// replaces the prior node.
func (w *Workflow) AddNode(n Node) {
	w.nodes[n.NodeID] = n
	w.outgoing = nil // invalidate cached adjacency
}

// AddEdge registers e, keyed by its EdgeID.
func (w *Workflow) AddEdge(e Edge) {
	w.edges[e.EdgeID] = e
	w.outgoing = nil
}

// Node returns the node registered under id, if any.
func (w *Workflow) Node(nodeID string) (Node, bool) {
	n, ok := w.nodes[nodeID]
	return n, ok
}

// Edge returns the edge registered under id, if any.
func (w *Workflow) Edge(edgeID string) (Edge, bool) {
	e, ok := w.edges[edgeID]
	return e, ok
}

// Nodes returns every node, order unspecified.
func (w *Workflow) Nodes() []Node {
	out := make([]Node, 0, len(w.nodes))
	for _, n := range w.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns every edge, order unspecified.
func (w *Workflow) Edges() []Edge {
	out := make([]Edge, 0, len(w.edges))
	for _, e := range w.edges {
		out = append(out, e)
	}
	return out
}

// OutgoingEdges returns the edges leaving nodeID, sorted by EdgeID for
// determinism independent of map iteration order.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	w.ensureAdjacency()
	ids := w.outgoing[nodeID]
	out := make([]Edge, 0, len(ids))
	for _, eid := range ids {
		out = append(out, w.edges[eid])
	}
	return out
}

func (w *Workflow) ensureAdjacency() {
	if w.outgoing != nil {
		return
	}
	adj := map[string][]string{}
	for _, e := range w.edges {
		adj[e.FromNodeID] = append(adj[e.FromNodeID], e.EdgeID)
	}
	for nodeID := range adj {
		sort.Strings(adj[nodeID])
	}
	w.outgoing = adj
}

// inDegree and outDegree count edges touching nodeID; used by Validate.
func (w *Workflow) inDegree(nodeID string) int {
	n := 0
	for _, e := range w.edges {
		if e.ToNodeID == nodeID {
			n++
		}
	}
	return n
}

func (w *Workflow) outDegree(nodeID string) int {
	n := 0
	for _, e := range w.edges {
		if e.FromNodeID == nodeID {
			n++
		}
	}
	return n
}

// StartNodes returns every node with in-degree 0, sorted lexicographically
// by NodeID.
func (w *Workflow) StartNodes() []string {
	var out []string
	for nodeID := range w.nodes {
		if w.inDegree(nodeID) == 0 {
			out = append(out, nodeID)
		}
	}
	sort.Strings(out)
	return out
}

// EndNodes returns every node with out-degree 0, sorted lexicographically
// by NodeID.
func (w *Workflow) EndNodes() []string {
	var out []string
	for nodeID := range w.nodes {
		if w.outDegree(nodeID) == 0 {
			out = append(out, nodeID)
		}
	}
	sort.Strings(out)
	return out
}

// Reachable returns the set of node ids reachable from startID, inclusive.
func (w *Workflow) Reachable(startID string) map[string]bool {
	w.ensureAdjacency()
	seen := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, eid := range w.outgoing[cur] {
			to := w.edges[eid].ToNodeID
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	return seen
}

// Validate enforces spec §3's invariants: every edge's endpoints exist; no
// self-loops on a node whose kind is not loop-capable; at least one
// in-degree-0 node and one out-degree-0 node when the workflow is non-empty.
func (w *Workflow) Validate() error {
	w.ensureAdjacency()

	if len(w.nodes) == 0 {
		return nil
	}

	for _, e := range w.edges {
		from, ok := w.nodes[e.FromNodeID]
		if !ok {
			return errs.New(errs.Validation, "workflow", fmt.Sprintf("edge %q references unknown from-node %q", e.EdgeID, e.FromNodeID))
		}
		if _, ok := w.nodes[e.ToNodeID]; !ok {
			return errs.New(errs.Validation, "workflow", fmt.Sprintf("edge %q references unknown to-node %q", e.EdgeID, e.ToNodeID))
		}
		if e.FromNodeID == e.ToNodeID && !loopCapableKinds[from.Kind] {
			return errs.New(errs.Validation, "workflow", fmt.Sprintf("edge %q is a self-loop on non-loop-capable node %q", e.EdgeID, e.FromNodeID))
		}
	}

	if len(w.StartNodes()) == 0 {
		return errs.New(errs.Validation, "workflow", "workflow has no node with in-degree 0 (no start node)")
	}
	if len(w.EndNodes()) == 0 {
		return errs.New(errs.Validation, "workflow", "workflow has no node with out-degree 0 (no end node)")
	}

	return nil
}

package workflow

import (
	"sort"
	"sync"

	"github.com/dshills/flowcore/workflow/expr"
)

// RouteDecision is the Router's verdict for one routing step (spec §4.4).
type RouteDecision struct {
	NextNodeIDs      []string
	SatisfiedEdges   []string
	UnsatisfiedEdges []string
	StateUpdates     map[string]any
	Metadata         map[string]any
}

// Router picks the next edge(s) from a node's outgoing edges given the
// current variable scope (spec §4.4). It is a pure function of
// (outgoing_edges, variables) — the same inputs always produce the same
// decision (spec §8 "Router determinism").
type Router struct {
	evaluator *expr.Evaluator

	mu           sync.Mutex
	historyOn    bool
	historyMax   int
	routeHistory map[string][]RouteDecision
}

// NewRouter constructs a Router backed by evaluator. Routing history is
// opt-in and bounded via EnableHistory.
func NewRouter(evaluator *expr.Evaluator) *Router {
	return &Router{evaluator: evaluator, routeHistory: map[string][]RouteDecision{}}
}

// EnableHistory turns on bounded, opt-in routing history keyed by
// workflow_id (spec §4.4: "Routing history per workflow_id is optional,
// bounded, opt-in via a flag").
func (r *Router) EnableHistory(maxEntries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.historyOn = true
	r.historyMax = maxEntries
}

// History returns a copy of the recorded routing decisions for workflowID,
// oldest first; the slice is empty (not nil) if history is disabled or holds
// nothing for workflowID.
func (r *Router) History(workflowID string) []RouteDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RouteDecision, len(r.routeHistory[workflowID]))
	copy(out, r.routeHistory[workflowID])
	return out
}

// sortedEdges returns edges sorted by descending priority, tie-broken by
// ascending edge-id (spec §4.4 step 1).
func sortedEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].priority(), out[j].priority()
		if pi != pj {
			return pi > pj
		}
		return out[i].EdgeID < out[j].EdgeID
	})
	return out
}

// Route performs single-target routing: the first satisfied edge (in
// priority order) wins. If none are satisfied and allowDefault is true, the
// highest-priority `default`-kind edge is returned instead.
func (r *Router) Route(workflowID string, edges []Edge, variables map[string]any, allowDefault bool) RouteDecision {
	decision := r.route(edges, variables, allowDefault)
	r.record(workflowID, decision)
	return decision
}

func (r *Router) route(edges []Edge, variables map[string]any, allowDefault bool) RouteDecision {
	if len(edges) == 0 {
		return RouteDecision{Metadata: map[string]any{"reason": "end_of_workflow"}}
	}

	sorted := sortedEdges(edges)
	var unsatisfied []string

	for _, e := range sorted {
		if r.satisfied(e, variables) {
			return RouteDecision{
				NextNodeIDs:      []string{e.ToNodeID},
				SatisfiedEdges:   []string{e.EdgeID},
				UnsatisfiedEdges: unsatisfied,
				Metadata:         map[string]any{},
			}
		}
		unsatisfied = append(unsatisfied, e.EdgeID)
	}

	if allowDefault {
		for _, e := range sorted {
			if e.Kind == EdgeDefault {
				return RouteDecision{
					NextNodeIDs:      []string{e.ToNodeID},
					SatisfiedEdges:   []string{e.EdgeID},
					UnsatisfiedEdges: removeEdgeID(unsatisfied, e.EdgeID),
					Metadata:         map[string]any{"isDefault": true},
				}
			}
		}
	}

	return RouteDecision{
		UnsatisfiedEdges: unsatisfied,
		Metadata:         map[string]any{"reason": "no_satisfied_edges"},
	}
}

// RouteMultiple returns every edge whose condition is satisfied, in
// priority order (spec §4.4's routeMultiple variant — used for `fork`
// nodes).
func (r *Router) RouteMultiple(workflowID string, edges []Edge, variables map[string]any) RouteDecision {
	sorted := sortedEdges(edges)
	var next, satisfied, unsatisfied []string

	for _, e := range sorted {
		if r.satisfied(e, variables) {
			next = append(next, e.ToNodeID)
			satisfied = append(satisfied, e.EdgeID)
		} else {
			unsatisfied = append(unsatisfied, e.EdgeID)
		}
	}

	decision := RouteDecision{
		NextNodeIDs:      next,
		SatisfiedEdges:   satisfied,
		UnsatisfiedEdges: unsatisfied,
		Metadata:         map[string]any{},
	}
	r.record(workflowID, decision)
	return decision
}

func (r *Router) satisfied(e Edge, variables map[string]any) bool {
	if !e.hasCondition() {
		return true
	}
	result := r.evaluator.Evaluate(e.Condition, expr.Scope{Variables: variables})
	return result.Success && result.Value == true
}

func (r *Router) record(workflowID string, decision RouteDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.historyOn {
		return
	}
	hist := append(r.routeHistory[workflowID], decision)
	if r.historyMax > 0 && len(hist) > r.historyMax {
		hist = hist[len(hist)-r.historyMax:]
	}
	r.routeHistory[workflowID] = hist
}

func removeEdgeID(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

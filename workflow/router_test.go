package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/flowcore/workflow/expr"
)

func TestRouterPicksFirstUnconditionalEdge(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{NewEdge("e1", EdgeSequence, "n1", "n2")}
	decision := r.Route("wf", edges, nil, false)
	require.Equal(t, []string{"n2"}, decision.NextNodeIDs)
	assert.Equal(t, []string{"e1"}, decision.SatisfiedEdges)
}

func TestRouterConditionalBranchHigherValueWins(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{
		NewEdge("branch1", EdgeConditional, "start", "branch1").WithCondition("value > 10"),
		NewEdge("branch2", EdgeConditional, "start", "branch2").WithCondition("value <= 10"),
	}

	decision := r.Route("wf", edges, map[string]any{"value": 20}, false)
	assert.Equal(t, []string{"branch1"}, decision.NextNodeIDs)

	decision = r.Route("wf", edges, map[string]any{"value": 5}, false)
	assert.Equal(t, []string{"branch2"}, decision.NextNodeIDs)
}

func TestRouterPriorityOrderAndTiebreak(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{
		NewEdge("zzz", EdgeSequence, "n", "a").WithCondition("false"),
		NewEdge("aaa", EdgeSequence, "n", "b").WithCondition("false"),
	}
	decision := r.route(edges, nil, false)
	// both unsatisfied; order within UnsatisfiedEdges must follow the
	// priority sort's tiebreak (ascending edge-id), both same kind/weight.
	assert.Equal(t, []string{"aaa", "zzz"}, decision.UnsatisfiedEdges)
}

func TestRouterFallsBackToDefaultEdge(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{
		NewEdge("cond", EdgeConditional, "n", "a").WithCondition("false"),
		NewEdge("def", EdgeDefault, "n", "fallback").WithCondition("false"),
	}
	decision := r.Route("wf", edges, nil, true)
	assert.Equal(t, []string{"fallback"}, decision.NextNodeIDs)
	assert.Equal(t, true, decision.Metadata["isDefault"])
}

func TestRouterNoSatisfiedEdgesWithoutDefault(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{NewEdge("cond", EdgeConditional, "n", "a").WithCondition("false")}
	decision := r.Route("wf", edges, nil, false)
	assert.Empty(t, decision.NextNodeIDs)
	assert.Equal(t, "no_satisfied_edges", decision.Metadata["reason"])
}

func TestRouterEndOfWorkflowWhenNoOutgoingEdges(t *testing.T) {
	r := NewRouter(expr.New(16))
	decision := r.Route("wf", nil, nil, false)
	assert.Equal(t, "end_of_workflow", decision.Metadata["reason"])
}

func TestRouterRouteMultipleReturnsAllSatisfied(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{
		NewEdge("b1", EdgeSequence, "fork", "branch1"),
		NewEdge("b2", EdgeSequence, "fork", "branch2"),
	}
	decision := r.RouteMultiple("wf", edges, nil)
	assert.ElementsMatch(t, []string{"branch1", "branch2"}, decision.NextNodeIDs)
}

func TestRouterIsDeterministic(t *testing.T) {
	r := NewRouter(expr.New(16))
	edges := []Edge{
		NewEdge("a", EdgeConditional, "n", "x").WithCondition("v > 1"),
		NewEdge("b", EdgeConditional, "n", "y").WithCondition("v <= 1"),
	}
	vars := map[string]any{"v": 5}
	first := r.route(edges, vars, false)
	second := r.route(edges, vars, false)
	assert.Equal(t, first, second)
}

func TestRouterHistoryIsBounded(t *testing.T) {
	r := NewRouter(expr.New(16))
	r.EnableHistory(2)
	edges := []Edge{NewEdge("e1", EdgeSequence, "n1", "n2")}
	r.Route("wf", edges, nil, false)
	r.Route("wf", edges, nil, false)
	r.Route("wf", edges, nil, false)
	assert.Len(t, r.History("wf"), 2)
}

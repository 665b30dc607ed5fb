package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/flowcore/workflow/id"
)

func linearWorkflow() *Workflow {
	clock := id.SystemClock{}
	w := NewWorkflow("wf-1", "linear", "")
	w.AddNode(NewNode("start", NodeStart, "", nil, clock))
	w.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	w.AddEdge(NewEdge("e1", EdgeSequence, "start", "end"))
	return w
}

func TestWorkflowValidateAcceptsLinearGraph(t *testing.T) {
	w := linearWorkflow()
	require.NoError(t, w.Validate())
	assert.Equal(t, []string{"start"}, w.StartNodes())
	assert.Equal(t, []string{"end"}, w.EndNodes())
}

func TestWorkflowValidateRejectsDanglingEdge(t *testing.T) {
	clock := id.SystemClock{}
	w := NewWorkflow("wf-2", "broken", "")
	w.AddNode(NewNode("start", NodeStart, "", nil, clock))
	w.AddEdge(NewEdge("e1", EdgeSequence, "start", "ghost"))
	require.Error(t, w.Validate())
}

func TestWorkflowValidateRejectsSelfLoopOnNonLoopCapableNode(t *testing.T) {
	clock := id.SystemClock{}
	w := NewWorkflow("wf-3", "loopy", "")
	w.AddNode(NewNode("n1", NodeCondition, "", nil, clock))
	w.AddEdge(NewEdge("e1", EdgeSequence, "n1", "n1"))
	require.Error(t, w.Validate())
}

func TestWorkflowValidateAllowsSelfLoopOnLoopCapableNode(t *testing.T) {
	clock := id.SystemClock{}
	w := NewWorkflow("wf-4", "loopy-ok", "")
	w.AddNode(NewNode("start", NodeStart, "", nil, clock))
	w.AddNode(NewNode("loop", NodeLoopStart, "", nil, clock))
	w.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	w.AddEdge(NewEdge("e0", EdgeSequence, "start", "loop"))
	w.AddEdge(NewEdge("e1", EdgeSequence, "loop", "loop"))
	w.AddEdge(NewEdge("e2", EdgeSequence, "loop", "end"))
	require.NoError(t, w.Validate())
}

func TestWorkflowOutgoingEdgesSortedByEdgeID(t *testing.T) {
	clock := id.SystemClock{}
	w := NewWorkflow("wf-5", "fanout", "")
	w.AddNode(NewNode("start", NodeStart, "", nil, clock))
	w.AddNode(NewNode("a", NodeEnd, "", nil, clock))
	w.AddNode(NewNode("b", NodeEnd, "", nil, clock))
	w.AddEdge(NewEdge("zzz", EdgeSequence, "start", "a"))
	w.AddEdge(NewEdge("aaa", EdgeSequence, "start", "b"))

	edges := w.OutgoingEdges("start")
	require.Len(t, edges, 2)
	assert.Equal(t, "aaa", edges[0].EdgeID)
	assert.Equal(t, "zzz", edges[1].EdgeID)
}

func TestWorkflowReachable(t *testing.T) {
	w := linearWorkflow()
	reach := w.Reachable("start")
	assert.True(t, reach["start"])
	assert.True(t, reach["end"])
}

func TestWorkflowValidateEmptyWorkflowIsValid(t *testing.T) {
	w := NewWorkflow("wf-empty", "", "")
	require.NoError(t, w.Validate())
}

func TestWorkflowValidateRequiresStartAndEndNodes(t *testing.T) {
	clock := id.SystemClock{}
	w := NewWorkflow("wf-cycle", "", "")
	w.AddNode(NewNode("a", NodeLoopStart, "", nil, clock))
	w.AddNode(NewNode("b", NodeLoopEnd, "", nil, clock))
	w.AddEdge(NewEdge("e1", EdgeSequence, "a", "b"))
	w.AddEdge(NewEdge("e2", EdgeSequence, "b", "a"))
	require.Error(t, w.Validate())
}

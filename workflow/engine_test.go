package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/flowcore/workflow/id"
)

// echoHandler always succeeds, returning node.NodeID as its output.
func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, node Node, _ WorkflowState) (HandlerResult, error) {
		return HandlerResult{Success: true, Output: node.NodeID}, nil
	})
}

type errNodeFailed struct{ msg string }

func (e errNodeFailed) Error() string { return e.msg }

func TestEngineLinearTwoNodeWorkflow(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-linear", "linear", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("work", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "work"))
	wf.AddEdge(NewEdge("e2", EdgeSequence, "work", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, echoHandler())

	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	report := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{})
	require.True(t, report.Success)
	require.NoError(t, report.Error)
	assert.Equal(t, []string{"start", "work", "end"}, report.ExecutedNodes)
	assert.Equal(t, "", report.FinalState.CurrentNodeID)
	out, ok := report.FinalState.ExecutionCtx.NodeResult("work")
	require.True(t, ok)
	assert.Equal(t, "work", out)
}

func TestEngineConditionalBranch(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-cond", "cond", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("route", NodeCondition, "", nil, clock))
	wf.AddNode(NewNode("hot", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("cold", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "route"))
	wf.AddEdge(NewEdge("e2", EdgeConditional, "route", "hot").WithCondition("temperature > 90"))
	wf.AddEdge(NewEdge("e3", EdgeDefault, "route", "cold"))
	wf.AddEdge(NewEdge("e4", EdgeSequence, "hot", "end"))
	wf.AddEdge(NewEdge("e5", EdgeSequence, "cold", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, echoHandler())

	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	hotReport := eng.Execute(context.Background(), "t-hot", map[string]any{"temperature": 95}, ExecuteOptions{})
	require.True(t, hotReport.Success)
	assert.Contains(t, hotReport.ExecutedNodes, "hot")
	assert.NotContains(t, hotReport.ExecutedNodes, "cold")

	coldReport := eng.Execute(context.Background(), "t-cold", map[string]any{"temperature": 50}, ExecuteOptions{})
	require.True(t, coldReport.Success)
	assert.Contains(t, coldReport.ExecutedNodes, "cold")
	assert.NotContains(t, coldReport.ExecutedNodes, "hot")
}

func TestEngineCheckpointCadence(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-cp", "cp", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("a", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("b", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "a"))
	wf.AddEdge(NewEdge("e2", EdgeSequence, "a", "b"))
	wf.AddEdge(NewEdge("e3", EdgeSequence, "b", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, echoHandler())

	interval := 2
	enable := true
	eng, err := NewEngine(wf, ex, WithCheckpointInterval(interval))
	require.NoError(t, err)

	report := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{EnableCheckpoints: &enable, CheckpointInterval: &interval})
	require.True(t, report.Success)
	assert.Equal(t, 2, report.CheckpointCount)

	cps := eng.CheckpointManager().GetThreadCheckpoints("t1")
	require.Len(t, cps, 2)
}

func TestEngineBudgetCapOnSelfCycle(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-cycle", "cycle", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("loop", NodeLoopStart, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "loop"))
	wf.AddEdge(NewEdge("e2", EdgeSequence, "loop", "loop"))
	wf.AddEdge(NewEdge("e3", EdgeSequence, "loop", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	eng, err := NewEngine(wf, ex, WithMaxSteps(5), WithEnableCheckpoints(false))
	require.NoError(t, err)

	report := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{})
	require.False(t, report.Success)
	require.Error(t, report.Error)
	assert.LessOrEqual(t, len(report.ExecutedNodes), 5)
}

func TestEngineForkJoinConvergence(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-fork", "fork", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("split", NodeFork, "", nil, clock))
	wf.AddNode(NewNode("left", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("right", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("merge", NodeJoin, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "split"))
	wf.AddEdge(NewEdge("e2", EdgeSequence, "split", "left"))
	wf.AddEdge(NewEdge("e3", EdgeSequence, "split", "right"))
	wf.AddEdge(NewEdge("e4", EdgeSequence, "left", "merge"))
	wf.AddEdge(NewEdge("e5", EdgeSequence, "right", "merge"))
	wf.AddEdge(NewEdge("e6", EdgeSequence, "merge", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, echoHandler())

	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	report := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{})
	require.True(t, report.Success)
	require.NoError(t, report.Error)
	assert.Contains(t, report.ExecutedNodes, "left")
	assert.Contains(t, report.ExecutedNodes, "right")
	assert.Contains(t, report.ExecutedNodes, "merge")

	leftOut, ok := report.FinalState.ExecutionCtx.NodeResult("left")
	require.True(t, ok)
	assert.Equal(t, "left", leftOut)
	rightOut, ok := report.FinalState.ExecutionCtx.NodeResult("right")
	require.True(t, ok)
	assert.Equal(t, "right", rightOut)
}

func TestEngineResumeFromCheckpoint(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-resume", "resume", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("a", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("b", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "a"))
	wf.AddEdge(NewEdge("e2", EdgeSequence, "a", "b"))
	wf.AddEdge(NewEdge("e3", EdgeSequence, "b", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, echoHandler())

	eng, err := NewEngine(wf, ex, WithCheckpointInterval(1))
	require.NoError(t, err)

	maxSteps := 2
	partial := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{MaxSteps: &maxSteps})
	require.False(t, partial.Success)

	cp, ok := eng.CheckpointManager().GetLatestCheckpoint("t1")
	require.True(t, ok)

	resumed := eng.ResumeFromCheckpoint(context.Background(), cp.CheckpointID, ExecuteOptions{})
	require.True(t, resumed.Success)
	require.NoError(t, resumed.Error)
	assert.Equal(t, "", resumed.FinalState.CurrentNodeID)
}

func TestEngineUnknownCheckpointIsNotFound(t *testing.T) {
	wf := linearWorkflow()
	ex := NewExecutor()
	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	report := eng.ResumeFromCheckpoint(context.Background(), "nope", ExecuteOptions{})
	require.False(t, report.Success)
	require.Error(t, report.Error)
}

func TestEngineErrorEdgeRoutesAroundHandlerFailure(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-err", "err", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("risky", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("recover", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "risky"))
	wf.AddEdge(NewEdge("e2", EdgeError, "risky", "recover"))
	wf.AddEdge(NewEdge("e3", EdgeSequence, "recover", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, HandlerFunc(func(_ context.Context, node Node, _ WorkflowState) (HandlerResult, error) {
		if node.NodeID == "risky" {
			return HandlerResult{Success: false, Err: errNodeFailed{"boom"}}, nil
		}
		return HandlerResult{Success: true, Output: node.NodeID}, nil
	}))

	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	report := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{})
	require.True(t, report.Success)
	assert.Contains(t, report.ExecutedNodes, "recover")
}

func TestEngineCancellationStopsExecution(t *testing.T) {
	wf := linearWorkflow()
	ex := NewExecutor()
	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := eng.Execute(ctx, "t1", nil, ExecuteOptions{})
	require.False(t, report.Success)
	require.Error(t, report.Error)
}

func TestEngineTimeoutFailsSlowNode(t *testing.T) {
	clock := id.SystemClock{}
	wf := NewWorkflow("wf-slow", "slow", "")
	wf.AddNode(NewNode("start", NodeStart, "", nil, clock))
	wf.AddNode(NewNode("slow", NodeLLM, "", nil, clock))
	wf.AddNode(NewNode("end", NodeEnd, "", nil, clock))
	wf.AddEdge(NewEdge("e1", EdgeSequence, "start", "slow"))
	wf.AddEdge(NewEdge("e2", EdgeSequence, "slow", "end"))
	require.NoError(t, wf.Validate())

	ex := NewExecutor()
	ex.Register(NodeLLM, HandlerFunc(func(ctx context.Context, node Node, _ WorkflowState) (HandlerResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return HandlerResult{Success: true, Output: node.NodeID}, nil
		case <-ctx.Done():
			return HandlerResult{}, ctx.Err()
		}
	}))

	timeout := 10 * time.Millisecond
	eng, err := NewEngine(wf, ex)
	require.NoError(t, err)

	report := eng.Execute(context.Background(), "t1", nil, ExecuteOptions{Timeout: &timeout})
	require.False(t, report.Success)
	require.Error(t, report.Error)
}

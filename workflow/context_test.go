package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/flowcore/workflow/id"
)

func TestExecutionContextCoWImmutability(t *testing.T) {
	ctx := NewExecutionContext()
	ctx, err := ctx.SetVariable("k", 1)
	require.NoError(t, err)

	ctx2, err := ctx.SetVariable("k", 2)
	require.NoError(t, err)

	v1, _ := ctx.GetVariable("k")
	v2, _ := ctx2.GetVariable("k")
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestExecutionContextSetVariableRejectsInvalidName(t *testing.T) {
	ctx := NewExecutionContext()
	_, err := ctx.SetVariable("1bad", 1)
	require.Error(t, err)
}

func TestExecutionContextPromptHistoryDenseIndexing(t *testing.T) {
	ctx := NewExecutionContext()
	ctx = ctx.AddUserInput("hi")
	ctx = ctx.AddAssistantOutput("hello", nil)
	ctx, err := ctx.AddToolResult("call-1", "result")
	require.NoError(t, err)

	hist := ctx.PromptHistory()
	require.Len(t, hist, 3)
	for i, e := range hist {
		assert.Equal(t, i, e.Index)
	}
	assert.Equal(t, 3, ctx.NextIndex())
}

func TestExecutionContextAddToolResultRequiresCallID(t *testing.T) {
	ctx := NewExecutionContext()
	_, err := ctx.AddToolResult("", "result")
	require.Error(t, err)
}

func TestExecutionContextTrimToIndex(t *testing.T) {
	ctx := NewExecutionContext()
	ctx = ctx.AddUserInput("a")
	ctx = ctx.AddUserInput("b")
	ctx = ctx.AddUserInput("c")

	trimmed, err := ctx.TrimToIndex(1)
	require.NoError(t, err)
	assert.Equal(t, 1, trimmed.NextIndex())
	assert.Len(t, trimmed.PromptHistory(), 1)

	_, err = ctx.TrimToIndex(10)
	require.Error(t, err)
}

func TestExecutionContextConvertOutputToInputPreservesIndices(t *testing.T) {
	ctx := NewExecutionContext()
	ctx = ctx.appendEntry(RoleOutput, "out", nil, "", nil)
	ctx = ctx.AddUserInput("next")

	converted := ctx.ConvertOutputToInput()
	hist := converted.PromptHistory()
	require.Len(t, hist, 2)
	assert.Equal(t, RoleAssistant, hist[0].Role)
	assert.Equal(t, 0, hist[0].Index)
	assert.Equal(t, RoleUser, hist[1].Role)
}

func TestExecutionContextSnapshotRestoreRoundTrip(t *testing.T) {
	clock := id.SystemClock{}
	ctx := NewExecutionContext()
	ctx, _ = ctx.SetVariable("x", 42)
	ctx = ctx.SetNodeResult("n1", "done")
	ctx = ctx.SetNodeContext("n1", map[string]any{"local": 1}, map[string]any{"m": "v"}, clock)
	ctx = ctx.AddUserInput("hi")
	ctx = ctx.UpdateMetadata("k", "v")

	snap := ctx.Snapshot(clock)
	restored := RestoreContext(snap)

	assert.Equal(t, ctx.Variables(), restored.Variables())
	assert.Equal(t, ctx.PromptHistory(), restored.PromptHistory())
	assert.Equal(t, ctx.Metadata(), restored.Metadata())
	n1, ok := restored.NodeResult("n1")
	require.True(t, ok)
	assert.Equal(t, "done", n1)
}

func TestExecutionContextGetVariableAbsent(t *testing.T) {
	ctx := NewExecutionContext()
	_, ok := ctx.GetVariable("missing")
	assert.False(t, ok)
}

func TestExecutionContextMutationsDoNotLeakContainers(t *testing.T) {
	ctx := NewExecutionContext()
	ctx, _ = ctx.SetVariable("nested", map[string]any{"a": 1})

	vars := ctx.Variables()
	vars["nested"].(map[string]any)["a"] = 999

	v, _ := ctx.GetVariable("nested")
	assert.Equal(t, 1, v.(map[string]any)["a"], "external mutation of a returned container must not affect the context")
}

func TestExecutionContextMemoryEstimateIsDeterministic(t *testing.T) {
	ctx := NewExecutionContext()
	ctx, _ = ctx.SetVariable("x", "hello")
	ctx = ctx.AddUserInput("world")

	a := ctx.MemoryEstimate()
	b := ctx.MemoryEstimate()
	assert.Equal(t, a, b)
	assert.Greater(t, a, int64(0))
}

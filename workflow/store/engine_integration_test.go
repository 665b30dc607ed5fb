package store_test

import (
	"context"
	"testing"

	"github.com/dshills/flowcore/workflow"
	"github.com/dshills/flowcore/workflow/id"
	"github.com/dshills/flowcore/workflow/store"
)

// TestEngineCheckpointsThroughDurableStore verifies workflow.WithCheckpointStore
// actually reaches a backend in this package: every engine checkpoint should
// be independently visible through the store's own ListThreadCheckpoints.
func TestEngineCheckpointsThroughDurableStore(t *testing.T) {
	clock := id.SystemClock{}
	wf := workflow.NewWorkflow("wf1", "durable-checkpoint-test", "")
	wf.AddNode(workflow.NewNode("start", workflow.NodeStart, "start", nil, clock))
	wf.AddNode(workflow.NewNode("work", workflow.NodeLLM, "work", nil, clock))
	wf.AddNode(workflow.NewNode("end", workflow.NodeEnd, "end", nil, clock))
	wf.AddEdge(workflow.NewEdge("e1", workflow.EdgeSequence, "start", "work"))
	wf.AddEdge(workflow.NewEdge("e2", workflow.EdgeSequence, "work", "end"))
	if err := wf.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	executor := workflow.NewExecutor()
	executor.Register(workflow.NodeLLM, workflow.HandlerFunc(func(_ context.Context, node workflow.Node, _ workflow.WorkflowState) (workflow.HandlerResult, error) {
		return workflow.HandlerResult{Success: true, Output: node.NodeID}, nil
	}))

	memStore := store.NewMemoryStore()
	engine, err := workflow.NewEngine(wf, executor,
		workflow.WithCheckpointInterval(1),
		workflow.WithCheckpointStore(memStore),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	report := engine.Execute(context.Background(), "t1", map[string]any{}, workflow.ExecuteOptions{})
	if !report.Success {
		t.Fatalf("expected success, got error=%v", report.Error)
	}

	checkpoints, err := memStore.ListThreadCheckpoints(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListThreadCheckpoints: %v", err)
	}
	if len(checkpoints) == 0 {
		t.Fatal("expected at least one checkpoint mirrored into the durable store")
	}
}

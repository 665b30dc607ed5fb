package workflow

import (
	"context"
	"fmt"

	"github.com/dshills/flowcore/workflow/tool"
)

// ToolHandler adapts a registry of tool.Tool implementations into a node
// Handler for `tool`-kind nodes (spec §6's handler boundary). A node selects
// which tool to invoke via its `tool_name` property; the current thread's
// variables are passed through as the tool's input.
type ToolHandler struct {
	tools map[string]tool.Tool
}

// NewToolHandler constructs a ToolHandler with tools registered by Name().
func NewToolHandler(tools ...tool.Tool) *ToolHandler {
	h := &ToolHandler{tools: map[string]tool.Tool{}}
	for _, t := range tools {
		h.tools[t.Name()] = t
	}
	return h
}

// CanExecute reports whether node is a tool-kind node naming a registered
// tool.
func (h *ToolHandler) CanExecute(node Node, _ WorkflowState) bool {
	if node.Kind != NodeTool {
		return false
	}
	name, _ := node.Properties["tool_name"].(string)
	_, ok := h.tools[name]
	return ok
}

// Execute invokes node's named tool with the thread's current variables as
// input, reporting the tool's structured result as Output.
func (h *ToolHandler) Execute(ctx context.Context, node Node, state WorkflowState) (HandlerResult, error) {
	name, _ := node.Properties["tool_name"].(string)
	t, ok := h.tools[name]
	if !ok {
		return HandlerResult{Success: false, Err: fmt.Errorf("tool_handler: no tool registered for %q", name)}, nil
	}

	output, err := t.Call(ctx, state.ExecutionCtx.Variables())
	if err != nil {
		return HandlerResult{Success: false, Err: err}, nil
	}
	return HandlerResult{Success: true, Output: output, Metadata: map[string]any{"tool_name": name}}, nil
}

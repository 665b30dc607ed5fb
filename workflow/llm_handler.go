package workflow

import (
	"context"

	"github.com/dshills/flowcore/workflow/model"
)

// ChatModelHandler adapts a model.ChatModel into a node Handler for
// `llm`-kind nodes (spec §6's handler boundary): it converts the thread's
// prompt history into model.Message turns, invokes the model, and reports
// the response as the node's output. Appending the response back into the
// thread's prompt history is the caller's concern — Execute's signature
// (spec §6: `execute(node, state) -> {success, output, error, metadata}`)
// has no way to hand back a mutated ExecutionContext, so history bookkeeping
// stays with whoever owns the step loop.
type ChatModelHandler struct {
	Model model.ChatModel
	Tools []model.ToolSpec
}

// NewChatModelHandler constructs a ChatModelHandler bound to m, offering
// tools (nil if the node never calls tools) on every turn.
func NewChatModelHandler(m model.ChatModel, tools []model.ToolSpec) *ChatModelHandler {
	return &ChatModelHandler{Model: m, Tools: tools}
}

// CanExecute reports whether node is an llm-kind node.
func (h *ChatModelHandler) CanExecute(node Node, _ WorkflowState) bool {
	return node.Kind == NodeLLM
}

// Execute sends state's prompt history to h.Model and reports the response.
// A requested tool call surfaces in Metadata["tool_calls"] for the caller to
// dispatch and feed back via ExecutionContext.AddToolResult.
func (h *ChatModelHandler) Execute(ctx context.Context, _ Node, state WorkflowState) (HandlerResult, error) {
	messages := toModelMessages(state.ExecutionCtx.PromptHistory())
	out, err := h.Model.Chat(ctx, messages, h.Tools)
	if err != nil {
		return HandlerResult{Success: false, Err: err}, nil
	}

	toolCalls := make([]ToolCall, 0, len(out.ToolCalls))
	for _, tc := range out.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{Name: tc.Name, Arguments: tc.Input})
	}

	return HandlerResult{
		Success: true,
		Output:  out.Text,
		Metadata: map[string]any{
			"tool_calls":    toolCalls,
			"model":         out.Model,
			"input_tokens":  out.Usage.InputTokens,
			"output_tokens": out.Usage.OutputTokens,
		},
	}, nil
}

// toModelMessages flattens a thread's dense prompt history into the linear
// message list model.ChatModel expects, collapsing RoleOutput/RoleTool
// entries onto the roles providers understand.
func toModelMessages(history []PromptEntry) []model.Message {
	out := make([]model.Message, 0, len(history))
	for _, e := range history {
		role := model.RoleUser
		switch e.Role {
		case RoleSystem:
			role = model.RoleSystem
		case RoleAssistant, RoleOutput, RoleTool:
			role = model.RoleAssistant
		}
		out = append(out, model.Message{Role: role, Content: e.Content})
	}
	return out
}

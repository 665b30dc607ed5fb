package workflow

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dshills/flowcore/workflow/errs"
	"github.com/dshills/flowcore/workflow/id"
)

// variableNamePattern enforces spec §3's variable-name constraint.
var variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z_0-9]*$`)

// PromptRole discriminates a PromptEntry's position in a chat-style
// conversation. RoleOutput is transient: ConvertOutputToInput rewrites it to
// RoleAssistant before a new inference call (spec §3 invariant).
type PromptRole string

const (
	RoleSystem    PromptRole = "system"
	RoleUser      PromptRole = "user"
	RoleAssistant PromptRole = "assistant"
	RoleTool      PromptRole = "tool"
	RoleOutput    PromptRole = "output"
)

// ToolCall is an LLM-requested tool invocation attached to an assistant
// PromptEntry.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// PromptEntry is one turn of the thread's prompt history. Index is dense and
// monotonically increasing from 0 (spec §3 invariant).
type PromptEntry struct {
	Index      int
	Role       PromptRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Metadata   map[string]any
}

// NodeContext is the per-node slice of an ExecutionContext: node-local
// variables and metadata, plus the last time the engine touched this node.
type NodeContext struct {
	NodeID         string
	LocalVariables map[string]any
	Metadata       map[string]any
	LastAccessedAt time.Time
}

// ExecutionContext is the immutable, copy-on-write state bag threaded
// through one thread's execution (spec §3/§4.3). Every mutator returns a new
// ExecutionContext; the receiver is never modified. The zero value is a
// valid, empty context.
type ExecutionContext struct {
	variables     map[string]any
	nodeContexts  map[string]NodeContext
	nodeResults   map[string]any
	promptHistory []PromptEntry
	nextIndex     int
	metadata      map[string]any
}

// NewExecutionContext returns an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return ExecutionContext{
		variables:    map[string]any{},
		nodeContexts: map[string]NodeContext{},
		nodeResults:  map[string]any{},
		metadata:     map[string]any{},
	}
}

// Variables returns a defensive copy of the variable bag.
func (c ExecutionContext) Variables() map[string]any {
	return cloneMap(c.variables)
}

// GetVariable returns the value bound to name and whether it is bound.
func (c ExecutionContext) GetVariable(name string) (any, bool) {
	v, ok := c.variables[name]
	return cloneValue(v), ok
}

// SetVariable returns a new ExecutionContext with name bound to value. name
// must match [A-Za-z_][A-Za-z_0-9]*; any other shape is a Validation error.
func (c ExecutionContext) SetVariable(name string, value any) (ExecutionContext, error) {
	if !variableNamePattern.MatchString(name) {
		return c, errs.New(errs.Validation, "context", fmt.Sprintf("invalid variable name %q", name))
	}
	next := c.shallowCopy()
	next.variables = cloneMap(c.variables)
	next.variables[name] = cloneValue(value)
	return next, nil
}

// NodeResult returns the recorded result for nodeID, if any.
func (c ExecutionContext) NodeResult(nodeID string) (any, bool) {
	v, ok := c.nodeResults[nodeID]
	return cloneValue(v), ok
}

// NodeResults returns every recorded node result keyed by node id. Used by
// fork/join merges that union results across branches.
func (c ExecutionContext) NodeResults() map[string]any {
	return cloneMap(c.nodeResults)
}

// SetNodeResult returns a new ExecutionContext recording value as nodeID's
// result.
func (c ExecutionContext) SetNodeResult(nodeID string, value any) ExecutionContext {
	next := c.shallowCopy()
	next.nodeResults = cloneMap(c.nodeResults)
	next.nodeResults[nodeID] = cloneValue(value)
	return next
}

// NodeContextFor returns the recorded NodeContext for nodeID, if any.
func (c ExecutionContext) NodeContextFor(nodeID string) (NodeContext, bool) {
	nc, ok := c.nodeContexts[nodeID]
	if !ok {
		return NodeContext{}, false
	}
	return cloneNodeContext(nc), true
}

// SetNodeContext returns a new ExecutionContext with nodeID's local
// variables and metadata merged in and LastAccessedAt advanced via clock.
func (c ExecutionContext) SetNodeContext(nodeID string, localVars, metadata map[string]any, clock id.Clock) ExecutionContext {
	next := c.shallowCopy()
	next.nodeContexts = make(map[string]NodeContext, len(c.nodeContexts))
	for k, v := range c.nodeContexts {
		next.nodeContexts[k] = v
	}
	next.nodeContexts[nodeID] = NodeContext{
		NodeID:         nodeID,
		LocalVariables: cloneMap(localVars),
		Metadata:       cloneMap(metadata),
		LastAccessedAt: clock.Now(),
	}
	return next
}

// Metadata returns a defensive copy of the context-level metadata bag.
func (c ExecutionContext) Metadata() map[string]any {
	return cloneMap(c.metadata)
}

// UpdateMetadata returns a new ExecutionContext with key bound to value in
// the context-level metadata bag.
func (c ExecutionContext) UpdateMetadata(key string, value any) ExecutionContext {
	next := c.shallowCopy()
	next.metadata = cloneMap(c.metadata)
	next.metadata[key] = cloneValue(value)
	return next
}

// PromptHistory returns a defensive copy of the ordered prompt history.
func (c ExecutionContext) PromptHistory() []PromptEntry {
	out := make([]PromptEntry, len(c.promptHistory))
	for i, e := range c.promptHistory {
		out[i] = clonePromptEntry(e)
	}
	return out
}

// NextIndex returns the index the next appended PromptEntry will receive.
func (c ExecutionContext) NextIndex() int {
	return c.nextIndex
}

func (c ExecutionContext) appendEntry(role PromptRole, content string, toolCalls []ToolCall, toolCallID string, metadata map[string]any) ExecutionContext {
	entry := PromptEntry{
		Index:      c.nextIndex,
		Role:       role,
		Content:    content,
		ToolCalls:  cloneToolCalls(toolCalls),
		ToolCallID: toolCallID,
		Metadata:   cloneMap(metadata),
	}
	next := c.shallowCopy()
	next.promptHistory = append(append([]PromptEntry{}, c.promptHistory...), entry)
	next.nextIndex = c.nextIndex + 1
	return next
}

// AddAssistantOutput appends a RoleAssistant entry.
func (c ExecutionContext) AddAssistantOutput(content string, toolCalls []ToolCall) ExecutionContext {
	return c.appendEntry(RoleAssistant, content, toolCalls, "", nil)
}

// AddUserInput appends a RoleUser entry.
func (c ExecutionContext) AddUserInput(content string) ExecutionContext {
	return c.appendEntry(RoleUser, content, nil, "", nil)
}

// AddSystemMessage appends a RoleSystem entry.
func (c ExecutionContext) AddSystemMessage(content string) ExecutionContext {
	return c.appendEntry(RoleSystem, content, nil, "", nil)
}

// AddToolResult appends a RoleTool entry. toolCallID is required (spec §3
// invariant: tool entries carry a tool_call_id).
func (c ExecutionContext) AddToolResult(toolCallID, content string) (ExecutionContext, error) {
	if toolCallID == "" {
		return c, errs.New(errs.Validation, "context", "tool result requires a non-empty tool_call_id")
	}
	return c.appendEntry(RoleTool, content, nil, toolCallID, nil), nil
}

// ConvertOutputToInput rewrites every RoleOutput entry to RoleAssistant
// without changing indices (spec §3/§4.3).
func (c ExecutionContext) ConvertOutputToInput() ExecutionContext {
	next := c.shallowCopy()
	next.promptHistory = make([]PromptEntry, len(c.promptHistory))
	for i, e := range c.promptHistory {
		cloned := clonePromptEntry(e)
		if cloned.Role == RoleOutput {
			cloned.Role = RoleAssistant
		}
		next.promptHistory[i] = cloned
	}
	return next
}

// TrimToIndex drops entries with Index >= k and sets NextIndex to k. k must
// not exceed the current NextIndex — trimming forward past what exists is a
// Conflict (spec §7).
func (c ExecutionContext) TrimToIndex(k int) (ExecutionContext, error) {
	if k > c.nextIndex || k < 0 {
		return c, errs.New(errs.Conflict, "context", fmt.Sprintf("cannot trim to index %d past next_index %d", k, c.nextIndex))
	}
	next := c.shallowCopy()
	kept := make([]PromptEntry, 0, k)
	for _, e := range c.promptHistory {
		if e.Index < k {
			kept = append(kept, clonePromptEntry(e))
		}
	}
	next.promptHistory = kept
	next.nextIndex = k
	return next, nil
}

// ContextSnapshot is a deep-cloned, point-in-time capture of an
// ExecutionContext plus the time it was taken.
type ContextSnapshot struct {
	Variables     map[string]any
	NodeContexts  map[string]NodeContext
	NodeResults   map[string]any
	PromptHistory []PromptEntry
	NextIndex     int
	Metadata      map[string]any
	SnapshotAt    time.Time
}

// Snapshot produces a ContextSnapshot of c.
func (c ExecutionContext) Snapshot(clock id.Clock) ContextSnapshot {
	nodeContexts := make(map[string]NodeContext, len(c.nodeContexts))
	for k, v := range c.nodeContexts {
		nodeContexts[k] = cloneNodeContext(v)
	}
	return ContextSnapshot{
		Variables:     cloneMap(c.variables),
		NodeContexts:  nodeContexts,
		NodeResults:   cloneMap(c.nodeResults),
		PromptHistory: c.PromptHistory(),
		NextIndex:     c.nextIndex,
		Metadata:      cloneMap(c.metadata),
		SnapshotAt:    clock.Now(),
	}
}

// RestoreContext constructs an ExecutionContext from a ContextSnapshot.
func RestoreContext(snap ContextSnapshot) ExecutionContext {
	nodeContexts := make(map[string]NodeContext, len(snap.NodeContexts))
	for k, v := range snap.NodeContexts {
		nodeContexts[k] = cloneNodeContext(v)
	}
	promptHistory := make([]PromptEntry, len(snap.PromptHistory))
	for i, e := range snap.PromptHistory {
		promptHistory[i] = clonePromptEntry(e)
	}
	return ExecutionContext{
		variables:     cloneMap(snap.Variables),
		nodeContexts:  nodeContexts,
		nodeResults:   cloneMap(snap.NodeResults),
		promptHistory: promptHistory,
		nextIndex:     snap.NextIndex,
		metadata:      cloneMap(snap.Metadata),
	}
}

// MemoryEstimate walks c deterministically and returns an approximate byte
// count (UTF-16-convention string sizing; primitives at a fixed nominal
// size). It is for reporting and eviction hints only — not a precise
// accounting of Go's actual memory layout.
func (c ExecutionContext) MemoryEstimate() int64 {
	var total int64
	total += estimateValue(c.variables)
	total += estimateValue(c.nodeResults)
	total += estimateValue(c.metadata)
	for _, nc := range c.nodeContexts {
		total += int64(len(nc.NodeID)) * 2
		total += estimateValue(nc.LocalVariables)
		total += estimateValue(nc.Metadata)
	}
	for _, e := range c.promptHistory {
		total += 8 // Index
		total += int64(len(e.Role)) * 2
		total += int64(len(e.Content)) * 2
		total += int64(len(e.ToolCallID)) * 2
		total += estimateValue(e.Metadata)
		for _, tc := range e.ToolCalls {
			total += int64(len(tc.ID))*2 + int64(len(tc.Name))*2
			total += estimateValue(tc.Arguments)
		}
	}
	return total
}

func (c ExecutionContext) shallowCopy() ExecutionContext {
	return ExecutionContext{
		variables:     c.variables,
		nodeContexts:  c.nodeContexts,
		nodeResults:   c.nodeResults,
		promptHistory: c.promptHistory,
		nextIndex:     c.nextIndex,
		metadata:      c.metadata,
	}
}

func cloneNodeContext(nc NodeContext) NodeContext {
	return NodeContext{
		NodeID:         nc.NodeID,
		LocalVariables: cloneMap(nc.LocalVariables),
		Metadata:       cloneMap(nc.Metadata),
		LastAccessedAt: nc.LastAccessedAt,
	}
}

func clonePromptEntry(e PromptEntry) PromptEntry {
	return PromptEntry{
		Index:      e.Index,
		Role:       e.Role,
		Content:    e.Content,
		ToolCalls:  cloneToolCalls(e.ToolCalls),
		ToolCallID: e.ToolCallID,
		Metadata:   cloneMap(e.Metadata),
	}
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = ToolCall{ID: tc.ID, Name: tc.Name, Arguments: cloneMap(tc.Arguments)}
	}
	return out
}

// cloneValue deep-copies maps/slices of generic values so no mutator ever
// exposes a container an earlier context still references. Scalars
// (string, numbers, bool, nil) are immutable in Go and pass through as-is;
// a true nil stays nil — callers that need a guaranteed non-nil map use
// cloneMap instead.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// cloneMap deep-copies m, returning a non-nil empty map when m is nil. Used
// for fields that are always iterated/indexed as maps (variables, metadata,
// node results, per-entry metadata) where a nil map would force callers to
// nil-check before every read.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func estimateValue(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(t)) * 2
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 8
	case map[string]any:
		var total int64
		for k, vv := range t {
			total += int64(len(k))*2 + estimateValue(vv)
		}
		return total
	case []any:
		var total int64
		for _, vv := range t {
			total += estimateValue(vv)
		}
		return total
	default:
		return 8
	}
}

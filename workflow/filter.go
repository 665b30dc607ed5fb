package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/flowcore/workflow/expr"
)

// FilterRuleType discriminates what a FilterRule does to matching entries.
type FilterRuleType string

const (
	FilterInclude   FilterRuleType = "include"
	FilterExclude   FilterRuleType = "exclude"
	FilterTransform FilterRuleType = "transform"
)

// FilterTarget is the context slice a FilterRule applies to.
type FilterTarget string

const (
	TargetVariables FilterTarget = "variables"
	TargetHistory   FilterTarget = "history"
	TargetMetadata  FilterTarget = "metadata"
)

// FilterRule is one step of a ContextFilter's pipeline.
type FilterRule struct {
	Type          FilterRuleType
	Pattern       string // `*` wildcard, full-match
	Target        FilterTarget
	TransformName string // used when Type == FilterTransform
	Condition     string // expression source; rule is skipped if it evaluates false
}

// ContextFilter is an ordered, prioritized pipeline of rules applied to an
// ExecutionContext as it flows along an Edge (spec §4.2).
type ContextFilter struct {
	Rules           []FilterRule
	DefaultBehavior DefaultBehavior
	Priority        int
}

// DefaultBehavior governs what happens to a target with no matching rule.
type DefaultBehavior string

const (
	DefaultPass  DefaultBehavior = "pass"
	DefaultBlock DefaultBehavior = "block"
)

// PassAllFilter returns the filter every Edge carries by default: no rules,
// pass everything through unchanged.
func PassAllFilter() ContextFilter {
	return ContextFilter{DefaultBehavior: DefaultPass}
}

// Merge concatenates a's and b's rule lists, takes the higher Priority, and
// keeps a's DefaultBehavior (spec §4.2).
func Merge(a, b ContextFilter) ContextFilter {
	merged := ContextFilter{
		Rules:           append(append([]FilterRule{}, a.Rules...), b.Rules...),
		DefaultBehavior: a.DefaultBehavior,
		Priority:        a.Priority,
	}
	if b.Priority > merged.Priority {
		merged.Priority = b.Priority
	}
	return merged
}

// wildcardToRegex compiles a `*`-wildcard pattern into a full-match regex
// (spec §4.2: "Patterns use `*` wildcards mapped to `.*` in a full-match
// regex").
func wildcardToRegex(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString(".*")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\', '?':
			b.WriteRune('\\')
			b.WriteRune(ch)
		default:
			b.WriteRune(ch)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func matchesPattern(pattern, value string) bool {
	re, err := wildcardToRegex(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// Apply runs the filter pipeline against ctx and returns a new
// ExecutionContext; ctx itself is never mutated (spec §4.2: "A filter
// always returns a new context").
func (f ContextFilter) Apply(ctx ExecutionContext, evaluator *expr.Evaluator) ExecutionContext {
	if f.DefaultBehavior == DefaultBlock && len(f.Rules) == 0 {
		return NewExecutionContext()
	}

	variables := ctx.Variables()
	metadata := ctx.Metadata()
	history := ctx.PromptHistory()

	// transform rules run before include/exclude (spec §4.2 ordering).
	for _, rule := range f.Rules {
		if rule.Type != FilterTransform {
			continue
		}
		if !f.conditionHolds(rule, ctx, evaluator) {
			continue
		}
		f.applyTransformRule(rule, variables, metadata, history, evaluator)
	}

	variables = f.applyIncludeExclude(TargetVariables, variables, ctx, evaluator)
	metadata = f.applyIncludeExclude(TargetMetadata, metadata, ctx, evaluator)
	history = f.filterHistory(history, ctx, evaluator)

	out := NewExecutionContext()
	for k, v := range variables {
		out, _ = out.SetVariable(k, v)
	}
	for k, v := range metadata {
		out = out.UpdateMetadata(k, v)
	}
	for _, e := range history {
		out = out.appendEntry(e.Role, e.Content, e.ToolCalls, e.ToolCallID, e.Metadata)
	}
	for k, v := range ctx.nodeResults {
		out = out.SetNodeResult(k, v)
	}
	for k, nc := range ctx.nodeContexts {
		out.nodeContexts[k] = cloneNodeContext(nc)
	}
	return out
}

func (f ContextFilter) conditionHolds(rule FilterRule, ctx ExecutionContext, evaluator *expr.Evaluator) bool {
	if rule.Condition == "" {
		return true
	}
	result := evaluator.Evaluate(rule.Condition, expr.Scope{Variables: ctx.Variables()})
	return result.Success && result.Value == true
}

func (f ContextFilter) applyTransformRule(rule FilterRule, variables, metadata map[string]any, history []PromptEntry, evaluator *expr.Evaluator) {
	applyValue := func(v any) any {
		out, err := evaluator.ApplyTransform(rule.TransformName, v)
		if err != nil {
			return v
		}
		return out
	}
	switch rule.Target {
	case TargetVariables:
		for k, v := range variables {
			if matchesPattern(rule.Pattern, k) {
				variables[k] = applyValue(v)
			}
		}
	case TargetMetadata:
		for k, v := range metadata {
			if matchesPattern(rule.Pattern, k) {
				metadata[k] = applyValue(v)
			}
		}
	case TargetHistory:
		for i, e := range history {
			if matchesPattern(rule.Pattern, string(e.Role)) {
				if s, ok := applyValue(e.Content).(string); ok {
					history[i].Content = s
				} else {
					history[i].Content = fmt.Sprint(applyValue(e.Content))
				}
			}
		}
	}
}

func (f ContextFilter) applyIncludeExclude(target FilterTarget, bag map[string]any, ctx ExecutionContext, evaluator *expr.Evaluator) map[string]any {
	includes, excludes := rulesFor(f.Rules, target)
	if len(includes) == 0 && len(excludes) == 0 {
		if f.DefaultBehavior == DefaultBlock {
			return map[string]any{}
		}
		return bag
	}

	out := map[string]any{}
	for k, v := range bag {
		keep := f.DefaultBehavior == DefaultPass
		for _, rule := range includes {
			if f.conditionHolds(rule, ctx, evaluator) && matchesPattern(rule.Pattern, k) {
				keep = true
			}
		}
		for _, rule := range excludes {
			if f.conditionHolds(rule, ctx, evaluator) && matchesPattern(rule.Pattern, k) {
				keep = false
			}
		}
		if keep {
			out[k] = v
		}
	}
	return out
}

func (f ContextFilter) filterHistory(history []PromptEntry, ctx ExecutionContext, evaluator *expr.Evaluator) []PromptEntry {
	includes, excludes := rulesFor(f.Rules, TargetHistory)
	if len(includes) == 0 && len(excludes) == 0 {
		if f.DefaultBehavior == DefaultBlock {
			return nil
		}
		return history
	}

	out := make([]PromptEntry, 0, len(history))
	for _, e := range history {
		keep := f.DefaultBehavior == DefaultPass
		for _, rule := range includes {
			if f.conditionHolds(rule, ctx, evaluator) && matchesPattern(rule.Pattern, string(e.Role)) {
				keep = true
			}
		}
		for _, rule := range excludes {
			if f.conditionHolds(rule, ctx, evaluator) && matchesPattern(rule.Pattern, string(e.Role)) {
				keep = false
			}
		}
		if keep {
			out = append(out, e)
		}
	}
	return out
}

func rulesFor(rules []FilterRule, target FilterTarget) (includes, excludes []FilterRule) {
	for _, r := range rules {
		if r.Target != target {
			continue
		}
		switch r.Type {
		case FilterInclude:
			includes = append(includes, r)
		case FilterExclude:
			excludes = append(excludes, r)
		}
	}
	return includes, excludes
}

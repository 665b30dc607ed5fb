package expr

import (
	"regexp"
	"strings"
)

// orPlaceholder temporarily stands in for "||" while pipe-transform syntax is
// rewritten, so the transform-pipe regex never mistakes a logical-or operator
// for a transform application.
const orPlaceholder = "\x00OR\x00"

// notInPattern rewrites the dialect's `not_in` keyword into expr-lang's
// native `not in` operator.
var notInPattern = regexp.MustCompile(`\bnot_in\b`)

// pipeOperandPattern matches the smallest operand a transform pipe can bind to:
// a dotted/indexed identifier chain, a string or numeric literal, or a
// single-level transform call produced by a previous rewrite of this same
// regex (so chained pipes like a|upper|trim resolve left-to-right).
const pipeOperandPattern = `(` +
	`__transform_[A-Za-z_][A-Za-z0-9_]*\([^()]*\)` +
	`|[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[^\]]+\])*` +
	`|"[^"]*"` +
	`|'[^']*'` +
	`|\d+(?:\.\d+)?` +
	`)`

var pipePattern = regexp.MustCompile(pipeOperandPattern + `\|([A-Za-z_][A-Za-z0-9_]*)`)

// transformFuncName is the name under which a registered transform fn is
// exposed inside the compiled expression's environment.
func transformFuncName(name string) string {
	return "__transform_" + name
}

// convertSyntax rewrites the dialect's surface syntax into expr-lang-native
// source: `x|name` pipe transforms become `__transform_name(x)` calls (the
// evaluator registers each transform under that name in the compile
// environment), and `not_in` becomes the native `not in` operator. Member
// access (`.`/`[]`), comparisons, arithmetic, logical operators, ternary,
// and `in` are already valid expr-lang syntax and pass through untouched.
func convertSyntax(expression string) string {
	out := strings.ReplaceAll(expression, "||", orPlaceholder)

	for {
		next := pipePattern.ReplaceAllString(out, transformFuncName("$2")+"($1)")
		if next == out {
			break
		}
		out = next
	}

	out = strings.ReplaceAll(out, orPlaceholder, "||")
	out = notInPattern.ReplaceAllString(out, "not in")
	return out
}

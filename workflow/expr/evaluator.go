// Package expr implements the restricted, sandboxed expression dialect used
// to score edge conditions and drive context-filter transforms. It compiles
// and runs expressions with github.com/expr-lang/expr, the same backend the
// pack's yesoreyeram-thaiyyal expression adapter uses for an equivalent
// need, and caches evaluation results in an LRU keyed by the expression
// source and a hash of the scope it ran against.
package expr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/flowcore/workflow/errs"
)

// TransformFunc is a registered unary transform, invoked as `x|name`.
type TransformFunc func(any) (any, error)

// FunctionFunc is a registered multi-arity function, invoked as `name(...)`.
type FunctionFunc func(args ...any) (any, error)

// Scope is the read-only evaluation environment: the variables of an
// ExecutionContext plus an optional caller-supplied custom scope, exposed to
// expressions under the "custom" name.
type Scope struct {
	Variables map[string]any
	Custom    map[string]any
}

// Result is the outcome of Evaluate. Pure: a given (expression, scope) pair
// always yields the same Result, which is exactly what makes caching safe.
type Result struct {
	Success bool
	Value   any
	Error   string
}

// ValidateResult is the outcome of Validate.
type ValidateResult struct {
	Valid   bool
	Errors  []string
	Trimmed string
}

const defaultCacheSize = 1024

// builtinTransformNames and builtinFunctionNames are reserved: registering a
// custom transform/function under one of these names fails with Conflict.
var (
	builtinTransformNames = map[string]bool{"upper": true, "lower": true, "trim": true, "round": true, "abs": true}
	builtinFunctionNames  = map[string]bool{"Math": true, "length": true, "contains": true, "startsWith": true, "endsWith": true, "matches": true}
)

type cacheKey struct {
	source    string
	scopeHash string
}

// Evaluator compiles and runs expressions against a Scope. The zero value is
// not usable; construct with New.
type Evaluator struct {
	mu         sync.RWMutex
	transforms map[string]TransformFunc
	functions  map[string]FunctionFunc
	cache      *lru.Cache[cacheKey, Result]

	// programCache holds compiled programs keyed by converted source only
	// (a compiled program depends on expression shape, not variable
	// values) so repeated evaluation of the same expression across many
	// scopes skips recompilation. It is an implementation detail, not
	// part of the observable cache_size() contract.
	programMu    sync.Mutex
	programCache map[string]*vm.Program
}

// New constructs an Evaluator with an LRU result cache bounded to
// maxCacheEntries (defaultCacheSize if <= 0).
func New(maxCacheEntries int) *Evaluator {
	if maxCacheEntries <= 0 {
		maxCacheEntries = defaultCacheSize
	}
	cache, err := lru.New[cacheKey, Result](maxCacheEntries)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(fmt.Sprintf("expr: unreachable lru.New error: %v", err))
	}
	return &Evaluator{
		transforms:   defaultTransforms(),
		functions:    map[string]FunctionFunc{},
		cache:        cache,
		programCache: map[string]*vm.Program{},
	}
}

func defaultTransforms() map[string]TransformFunc {
	return map[string]TransformFunc{
		"upper": func(v any) (any, error) { return strings.ToUpper(fmt.Sprint(v)), nil },
		"lower": func(v any) (any, error) { return strings.ToLower(fmt.Sprint(v)), nil },
		"trim":  func(v any) (any, error) { return strings.TrimSpace(fmt.Sprint(v)), nil },
		"round": func(v any) (any, error) {
			f, ok := toFloat(v)
			if !ok {
				return v, nil
			}
			return math.Round(f), nil
		},
		"abs": func(v any) (any, error) {
			f, ok := toFloat(v)
			if !ok {
				return v, nil
			}
			return math.Abs(f), nil
		},
	}
}

// ApplyTransform invokes the transform registered under name directly
// (bypassing expression compilation) — used by the Context Filter to apply
// a `transform_name` rule to a single value. Returns a NotFound error if no
// such transform is registered.
func (e *Evaluator) ApplyTransform(name string, value any) (any, error) {
	e.mu.RLock()
	fn, ok := e.transforms[name]
	e.mu.RUnlock()
	if !ok {
		return value, errs.New(errs.NotFound, "expr", fmt.Sprintf("no transform registered under %q", name))
	}
	return fn(value)
}

// RegisterTransform adds a custom unary transform invocable as `x|name`.
// Overwriting a builtin name fails with a Conflict error.
func (e *Evaluator) RegisterTransform(name string, fn TransformFunc) error {
	if builtinTransformNames[name] {
		return errs.New(errs.Conflict, "expr", fmt.Sprintf("cannot overwrite builtin transform %q", name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transforms[name] = fn
	return nil
}

// RegisterFunction adds a custom multi-arity function invocable as
// `name(...)`. Overwriting a builtin name fails with a Conflict error.
func (e *Evaluator) RegisterFunction(name string, fn FunctionFunc) error {
	if builtinFunctionNames[name] {
		return errs.New(errs.Conflict, "expr", fmt.Sprintf("cannot overwrite builtin function %q", name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = fn
	return nil
}

// CacheSize reports the number of cached evaluation results.
func (e *Evaluator) CacheSize() int {
	return e.cache.Len()
}

// Evaluate runs expression against scope and returns its Result. Never
// panics and never returns a Go error: all failure is carried in
// Result.Success/Result.Error so callers can route Validation-kind errors
// without special-casing this component.
func (e *Evaluator) Evaluate(expression string, scope Scope) Result {
	trimmed := strings.TrimSpace(expression)
	converted := convertSyntax(trimmed)
	key := cacheKey{source: trimmed, scopeHash: e.hashScope(scope)}

	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	result := e.evaluateUncached(converted, scope)
	e.cache.Add(key, result)
	return result
}

func (e *Evaluator) evaluateUncached(converted string, scope Scope) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = classifyFailure(fmt.Sprintf("%v", r))
		}
	}()

	env := e.buildEnv(scope)

	e.programMu.Lock()
	program, cached := e.programCache[converted]
	e.programMu.Unlock()

	if !cached {
		compiled, err := exprlang.Compile(converted, exprlang.Env(env), exprlang.AllowUndefinedVariables())
		if err != nil {
			return classifyFailure(err.Error())
		}
		program = compiled
		e.programMu.Lock()
		e.programCache[converted] = program
		e.programMu.Unlock()
	}

	out, err := exprlang.Run(program, env)
	if err != nil {
		return classifyFailure(err.Error())
	}
	return Result{Success: true, Value: out}
}

// classifyFailure maps a compile/run failure message onto the spec's named
// edge case (DivisionByZero) or a generic evaluation error.
func classifyFailure(message string) Result {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "divide by zero") || strings.Contains(lower, "division by zero") {
		return Result{Success: false, Error: "DivisionByZero"}
	}
	return Result{Success: false, Error: message}
}

// Validate compiles expression without running it. If scope is non-nil,
// unresolved top-level identifiers are reported as errors; if scope is nil,
// identifier resolution is skipped (the expression is checked for syntax
// only).
func (e *Evaluator) Validate(expression string, scope *Scope) ValidateResult {
	trimmed := strings.TrimSpace(expression)
	converted := convertSyntax(trimmed)

	var env map[string]any
	opts := []exprlang.Option{}
	if scope == nil {
		env = e.buildEnv(Scope{})
		opts = append(opts, exprlang.Env(env), exprlang.AllowUndefinedVariables())
	} else {
		env = e.buildEnv(*scope)
		opts = append(opts, exprlang.Env(env))
	}

	_, err := exprlang.Compile(converted, opts...)
	if err != nil {
		return ValidateResult{Valid: false, Errors: []string{err.Error()}, Trimmed: trimmed}
	}
	return ValidateResult{Valid: true, Trimmed: trimmed}
}

func (e *Evaluator) buildEnv(scope Scope) map[string]any {
	env := map[string]any{}
	for k, v := range scope.Variables {
		env[k] = v
	}
	env["custom"] = scope.Custom

	env["Math"] = map[string]any{
		"max": func(a, b float64) float64 { return math.Max(a, b) },
		"min": func(a, b float64) float64 { return math.Min(a, b) },
		"abs": func(a float64) float64 { return math.Abs(a) },
	}
	env["length"] = builtinLength
	env["contains"] = func(a, b string) bool { return strings.Contains(a, b) }
	env["startsWith"] = func(a, b string) bool { return strings.HasPrefix(a, b) }
	env["endsWith"] = func(a, b string) bool { return strings.HasSuffix(a, b) }
	// "matches" is expr-lang's native infix regex operator (`x matches
	// "pattern"`); no env entry is registered for it to avoid shadowing
	// that operator with an identifier of the same name.

	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, fn := range e.transforms {
		fn := fn
		env[transformFuncName(name)] = func(v any) any {
			out, err := fn(v)
			if err != nil {
				return v
			}
			return out
		}
	}
	for name, fn := range e.functions {
		fn := fn
		env[name] = func(args ...any) any {
			out, err := fn(args...)
			if err != nil {
				return nil
			}
			return out
		}
	}
	return env
}

func builtinLength(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// hashScope produces a deterministic digest of scope for the result-cache
// key. encoding/json sorts map keys, so two scopes with identical contents
// always hash identically regardless of map iteration order — the same
// determinism property the engine's checkpoint idempotency keys rely on
// (sha256 over a canonical JSON encoding).
func (e *Evaluator) hashScope(scope Scope) string {
	payload := struct {
		Variables map[string]any `json:"variables"`
		Custom    map[string]any `json:"custom"`
	}{Variables: scope.Variables, Custom: scope.Custom}

	data, err := json.Marshal(payload)
	if err != nil {
		// Non-marshalable scope values (e.g. func, chan): fall back to a
		// key derived from fmt formatting; the result is cached under it
		// like any other.
		data = []byte(fmt.Sprintf("%+v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

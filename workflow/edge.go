package workflow

// EdgeKind is the tagged variant discriminating an edge's routing role.
type EdgeKind string

const (
	EdgeSequence    EdgeKind = "sequence"
	EdgeConditional EdgeKind = "conditional"
	EdgeDefault     EdgeKind = "default"
	EdgeError       EdgeKind = "error"
	EdgeTimeout     EdgeKind = "timeout"
)

// kindBias is the Router's priority contribution for each edge kind
// (spec §4.4: priority = weight + kind_bias).
var kindBias = map[EdgeKind]int{
	EdgeDefault:     10,
	EdgeConditional: 20,
	EdgeError:       30,
}

func (k EdgeKind) bias() int {
	if b, ok := kindBias[k]; ok {
		return b
	}
	return 10 // "other" per spec §4.4 step 1
}

// Edge is a directed transition between two nodes, optionally gated by a
// condition expression and always carrying a ContextFilter (PassAllFilter by
// default — "never absent" per spec §3).
type Edge struct {
	EdgeID        string
	Kind          EdgeKind
	FromNodeID    string
	ToNodeID      string
	Condition     string // expression source; empty means "unconditionally satisfied"
	Weight        int
	Properties    map[string]any
	ContextFilter ContextFilter
}

// NewEdge constructs an Edge with a pass-all context filter and no
// condition. Use the With* helpers to customize.
func NewEdge(edgeID string, kind EdgeKind, from, to string) Edge {
	return Edge{
		EdgeID:        edgeID,
		Kind:          kind,
		FromNodeID:    from,
		ToNodeID:      to,
		Properties:    map[string]any{},
		ContextFilter: PassAllFilter(),
	}
}

// WithCondition returns a copy of e with Condition set.
func (e Edge) WithCondition(expr string) Edge {
	next := e
	next.Condition = expr
	return next
}

// WithWeight returns a copy of e with Weight set.
func (e Edge) WithWeight(w int) Edge {
	next := e
	next.Weight = w
	return next
}

// WithContextFilter returns a copy of e with ContextFilter replaced.
func (e Edge) WithContextFilter(f ContextFilter) Edge {
	next := e
	next.ContextFilter = f
	return next
}

// priority computes the Router's sort key for e (spec §4.4 step 1).
func (e Edge) priority() int {
	return e.Weight + e.Kind.bias()
}

// hasCondition reports whether e carries a non-empty condition expression.
func (e Edge) hasCondition() bool {
	return e.Condition != ""
}

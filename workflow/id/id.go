// Package id provides the opaque identifier, monotonic timestamp, and
// version primitives shared by every component of the workflow engine.
package id

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq is a process-wide monotonic counter mixed into generated IDs so that
// lexicographic order approximates creation order even when two IDs are
// minted within the same clock tick.
var seq atomic.Uint64

// Generator mints identifiers for a single entity kind (thread, workflow,
// checkpoint, history record, fork, copy, ...). Keeping a Generator per kind
// means every ID carries a human-readable prefix without a shared registry.
//
// A zero-value Generator is not usable; construct with NewGenerator.
type Generator struct {
	prefix string
}

// NewGenerator returns a Generator that prefixes every minted ID with kind,
// e.g. NewGenerator("thread").New() -> "thread_0192a4f3b1c8_0000002a_3f2c9e1d".
func NewGenerator(kind string) *Generator {
	return &Generator{prefix: kind}
}

// New returns a fresh, globally unique identifier. The format is
// "<prefix>_<unix-milli-hex>_<seq-hex>_<random-suffix>": the timestamp and
// sequence components make lexicographic order track creation order closely
// (not guaranteed under clock skew); the random suffix guards uniqueness
// across process restarts.
func (g *Generator) New() string {
	ts := time.Now().UTC().UnixMilli()
	n := seq.Add(1)
	r := uuid.New()
	return fmt.Sprintf("%s_%012x_%08x_%s", g.prefix, ts, n, r.String()[:8])
}

// Clock abstracts time retrieval so tests can inject deterministic clocks.
// Production code uses SystemClock; tests substitute a fixed or stepping
// clock to keep timestamp-ordering assertions reproducible.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the current wall-clock time.
type SystemClock struct{}

// Now returns time.Now() in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// MonotonicClock wraps a Clock and guarantees that successive calls to Now
// never go backwards and never repeat, even if the wrapped clock's
// resolution is coarser than the call rate. History records and checkpoints
// are ordered by timestamp (spec §3); a clock that can tie or regress would
// break that ordering under fast sequential writes.
type MonotonicClock struct {
	inner Clock
	last  atomic.Int64 // UnixNano of the last timestamp returned
}

// NewMonotonicClock wraps inner (SystemClock{} if nil).
func NewMonotonicClock(inner Clock) *MonotonicClock {
	if inner == nil {
		inner = SystemClock{}
	}
	return &MonotonicClock{inner: inner}
}

// Now returns a timestamp strictly greater than any previously returned by
// this clock instance.
func (c *MonotonicClock) Now() time.Time {
	for {
		candidate := c.inner.Now().UnixNano()
		prev := c.last.Load()
		if candidate <= prev {
			candidate = prev + 1
		}
		if c.last.CompareAndSwap(prev, candidate) {
			return time.Unix(0, candidate).UTC()
		}
	}
}

// Version is a semver-like (major.minor.patch) version tag attached to
// workflows, nodes, and edges so consumers can detect a structural change
// between two snapshots of the same entity.
type Version struct {
	Major int
	Minor int
	Patch int
}

// InitialVersion is the version assigned to a newly created entity.
var InitialVersion = Version{Major: 1, Minor: 0, Patch: 0}

// String renders the version as "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// NextPatch returns a copy of v with Patch incremented. Entities bump their
// patch version on every in-place mutation (status change, property update)
// that does not alter their structural identity.
func (v Version) NextPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// NextMinor returns a copy of v with Minor incremented and Patch reset.
func (v Version) NextMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1, Patch: 0}
}

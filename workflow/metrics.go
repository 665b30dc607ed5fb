package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// workflow execution monitoring in production environments.
//
// Metrics exposed (all namespaced with "flowcore_"):
//
// 1. inflight_branches (gauge): Current number of fork branches executing
// concurrently. No labels.
//
// 2. queue_depth (gauge): Number of branches that have finished and are
// waiting at a join barrier for their siblings. No labels.
//
// 3. step_latency_ms (histogram): Node execution duration in milliseconds.
// Labels: thread_id, node_id, status (success/error).
// Buckets: [1, 5, 10, 50, 100, 500, 1000, 5000, 10000].
//
// 4. retries_total (counter): Cumulative retry attempts across all nodes,
// driven by NodePolicy.RetryPolicy. Labels: thread_id, node_id, reason.
//
// 5. merge_conflicts_total (counter): Fork/join merge conflicts, i.e. cases
// where two branches wrote the same state key and the later-finishing
// branch's write won. Labels: thread_id, conflict_type.
//
// 6. checkpoint_evictions_total (counter): Checkpoints evicted by the
// Checkpoint Manager's bounded retention (per-thread or global cap).
// Labels: thread_id, reason ("per_thread", "global").
//
// The scheduler is cooperative and single-threaded outside of fork
// branches (see the engine's concurrency model); there is no admission
// queue or backpressure to measure at the engine level, so these metrics
// describe fork/join concurrency and retry/checkpoint activity rather
// than a work-stealing scheduler's queue pressure.
type PrometheusMetrics struct {
	inflightBranches prometheus.Gauge
	queueDepth       prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries            *prometheus.CounterVec
	mergeConflicts     *prometheus.CounterVec
	checkpointEvictions *prometheus.CounterVec

	registry prometheus.Registerer

	mu sync.RWMutex

	enabled bool
}

// NewPrometheusMetrics creates and registers all workflow execution metrics
// with the provided Prometheus registry. Pass nil to use
// prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightBranches = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowcore",
		Name:      "inflight_branches",
		Help:      "Current number of fork branches executing concurrently",
	})

	pm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowcore",
		Name:      "queue_depth",
		Help:      "Number of fork branches finished and waiting at a join barrier for their siblings",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowcore",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds (from dispatch to completion)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"thread_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowcore",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts across all executions",
	}, []string{"thread_id", "node_id", "reason"})

	pm.mergeConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowcore",
		Name:      "merge_conflicts_total",
		Help:      "Fork/join merges where two branches wrote the same key and a later write won",
	}, []string{"thread_id", "conflict_type"})

	pm.checkpointEvictions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowcore",
		Name:      "checkpoint_evictions_total",
		Help:      "Checkpoints evicted by the checkpoint manager's bounded retention",
	}, []string{"thread_id", "reason"})

	return pm
}

// RecordStepLatency records the execution duration of a node in
// milliseconds against the step_latency_ms histogram.
func (pm *PrometheusMetrics) RecordStepLatency(threadID, nodeID string, latency time.Duration, status string) {
	if !pm.enabled {
		return
	}
	pm.stepLatency.WithLabelValues(threadID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries increments the retry counter for a node, reporting why
// NodePolicy.RetryPolicy triggered another attempt.
func (pm *PrometheusMetrics) IncrementRetries(threadID, nodeID, reason string) {
	if !pm.enabled {
		return
	}
	pm.retries.WithLabelValues(threadID, nodeID, reason).Inc()
}

// UpdateQueueDepth sets the number of fork branches currently parked at a
// join barrier waiting for their siblings to finish.
func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	if !pm.enabled {
		return
	}
	pm.queueDepth.Set(float64(depth))
}

// UpdateInflightBranches sets the number of fork branches currently
// executing concurrently.
func (pm *PrometheusMetrics) UpdateInflightBranches(count int) {
	if !pm.enabled {
		return
	}
	pm.inflightBranches.Set(float64(count))
}

// IncrementMergeConflicts increments the merge conflict counter when a
// join's state merge finds two branches wrote the same key.
func (pm *PrometheusMetrics) IncrementMergeConflicts(threadID, conflictType string) {
	if !pm.enabled {
		return
	}
	pm.mergeConflicts.WithLabelValues(threadID, conflictType).Inc()
}

// IncrementCheckpointEvictions increments the checkpoint eviction counter.
// reason is "per_thread" or "global" depending on which bound triggered
// the eviction.
func (pm *PrometheusMetrics) IncrementCheckpointEvictions(threadID, reason string) {
	if !pm.enabled {
		return
	}
	pm.checkpointEvictions.WithLabelValues(threadID, reason).Inc()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears gauge values (useful for testing). Counters are cumulative
// by design and are not reset.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.inflightBranches.Set(0)
	pm.queueDepth.Set(0)
}

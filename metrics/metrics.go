// Package metrics instruments the four named spans of a compute call
// (spec §6 "Instrumentation spans"): scheduler_init, scheduler, comm,
// and compute. It is grounded in the AleutianLocal/Insightify example
// repos' promauto-based Prometheus wiring, filling the role the
// teacher's own xray/expvar-based stats package (sched/stats.go) plays
// for observability, standardized here on a single ecosystem library.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Name identifies one of the four named instrumentation spans.
type Name string

const (
	SchedulerInit Name = "scheduler_init"
	Scheduler     Name = "scheduler"
	Comm          Name = "comm"
	Compute       Name = "compute"
)

var (
	spanLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lattice",
		Name:      "span_latency_seconds",
		Help:      "Latency of named instrumentation spans (scheduler_init, scheduler, comm, compute).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"span"})

	spanActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lattice",
		Name:      "span_active",
		Help:      "Number of currently open spans, by name.",
	}, []string{"span"})

	tasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lattice",
		Name:      "tasks_dispatched_total",
		Help:      "Total Thunks dispatched to a worker, by worker id.",
	}, []string{"worker"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lattice",
		Name:      "cache_hits_total",
		Help:      "Cache-hit short-circuits, by outcome (hit, miss).",
	}, []string{"outcome"})
)

// Span is an open instrumentation span; call Done to close it and
// record its latency.
type Span struct {
	name  Name
	start time.Time
}

// Start opens a span of the given name (spec §6: "Each is opened with
// a master/worker identifier and the relevant thunk id" -- the
// identifier/thunk id are carried by the caller's log fields rather
// than as Prometheus labels, to keep label cardinality bounded).
func Start(name Name) *Span {
	spanActive.WithLabelValues(string(name)).Inc()
	return &Span{name: name, start: time.Now()}
}

// Done closes the span, recording its latency.
func (s *Span) Done() {
	spanLatency.WithLabelValues(string(s.name)).Observe(time.Since(s.start).Seconds())
	spanActive.WithLabelValues(string(s.name)).Dec()
}

// RecordDispatch records that a Thunk was dispatched to worker w.
func RecordDispatch(w string) { tasksDispatched.WithLabelValues(w).Inc() }

// RecordCacheOutcome records a cache-hit short-circuit attempt's
// outcome: "hit" if the worker still held the cache_ref, "miss"
// otherwise.
func RecordCacheOutcome(hit bool) {
	if hit {
		cacheHits.WithLabelValues("hit").Inc()
		return
	}
	cacheHits.WithLabelValues("miss").Inc()
}

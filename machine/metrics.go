package machine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects exploration metrics.
//
// Metrics exposed (all namespaced with "actorcheck_"):
//
//  1. iterations_total (counter): finished iterations. Labels: strategy.
//  2. bugs_total (counter): buggy iterations. Labels: kind.
//  3. scheduling_decisions_total (counter): decisions taken by strategies.
//     Labels: kind (scheduling, boolean, integer, fair).
//  4. iteration_steps (histogram): scheduling steps per iteration.
//  5. iteration_duration_ms (histogram): wall time per iteration.
//  6. cycles_detected_total (counter): liveness cycle verdicts. Labels:
//     verdict (violation, benign).
//  7. distinct_states (gauge): distinct fingerprints in the last iteration.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := machine.NewPrometheusMetrics(registry)
//	engine, _ := machine.New(test, machine.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *PrometheusMetrics is valid and records nothing. All methods are
// safe for concurrent use so portfolio explorations can share one instance.
type PrometheusMetrics struct {
	iterations     *prometheus.CounterVec
	bugs           *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	iterationSteps prometheus.Histogram
	iterationTime  prometheus.Histogram
	cycles         *prometheus.CounterVec
	distinctStates prometheus.Gauge

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all exploration metrics with
// registry. A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.iterations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actorcheck",
		Name:      "iterations_total",
		Help:      "Number of finished exploration iterations",
	}, []string{"strategy"})

	pm.bugs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actorcheck",
		Name:      "bugs_total",
		Help:      "Number of iterations that ended in a bug",
	}, []string{"kind"})

	pm.decisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actorcheck",
		Name:      "scheduling_decisions_total",
		Help:      "Nondeterministic decisions resolved by the scheduling strategy",
	}, []string{"kind"})

	pm.iterationSteps = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "actorcheck",
		Name:      "iteration_steps",
		Help:      "Scheduling steps taken per iteration",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 9), // 1 to 65536
	})

	pm.iterationTime = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "actorcheck",
		Name:      "iteration_duration_ms",
		Help:      "Wall-clock duration of one iteration in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
	})

	pm.cycles = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actorcheck",
		Name:      "cycles_detected_total",
		Help:      "State cycles found by the liveness checker",
	}, []string{"verdict"})

	pm.distinctStates = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "actorcheck",
		Name:      "distinct_states",
		Help:      "Distinct program fingerprints observed in the last iteration",
	})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordIteration records a finished iteration.
func (pm *PrometheusMetrics) RecordIteration(strategy string, steps int, d time.Duration) {
	if !pm.on() {
		return
	}
	pm.iterations.WithLabelValues(strategy).Inc()
	pm.iterationSteps.Observe(float64(steps))
	pm.iterationTime.Observe(float64(d.Microseconds()) / 1000)
}

// IncrementBugs counts a buggy iteration.
func (pm *PrometheusMetrics) IncrementBugs(kind BugKind) {
	if !pm.on() {
		return
	}
	pm.bugs.WithLabelValues(kind.String()).Inc()
}

// IncrementDecisions counts one strategy decision of the given kind.
func (pm *PrometheusMetrics) IncrementDecisions(kind string) {
	if !pm.on() {
		return
	}
	pm.decisions.WithLabelValues(kind).Inc()
}

// IncrementCycles counts a liveness cycle verdict.
func (pm *PrometheusMetrics) IncrementCycles(verdict string) {
	if !pm.on() {
		return
	}
	pm.cycles.WithLabelValues(verdict).Inc()
}

// SetDistinctStates records the distinct fingerprints of an iteration.
func (pm *PrometheusMetrics) SetDistinctStates(n int) {
	if !pm.on() {
		return
	}
	pm.distinctStates.Set(float64(n))
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

// Reset clears gauge values. Counters and histograms are cumulative and
// keep their observations.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.distinctStates.Set(0)
}

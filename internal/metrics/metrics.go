// Package metrics exposes Prometheus observability for the execution plane.
//
// All collectors are package-level and registered once at init; recording
// functions are safe for concurrent use and cheap enough for the
// per-invocation hot path (counter, gauge and histogram updates only).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vortex"

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Completed executions by outcome.",
	}, []string{"outcome"})

	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of script executions.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	activeExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_executions",
		Help:      "Executions currently holding a worker slot.",
	})

	poolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_slots_in_use",
		Help:      "Worker pool slots currently held.",
	})

	poolCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_capacity",
		Help:      "Configured worker pool capacity.",
	})

	admissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_rejected_total",
		Help:      "Requests rejected because the pool was saturated.",
	})

	busPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_published_total",
		Help:      "Log events handed to the event bus.",
	})

	busDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_delivered_total",
		Help:      "Log event deliveries across all subscribers.",
	})

	busDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_dropped_total",
		Help:      "Events discarded because a subscriber fell behind.",
	})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_subscribers",
		Help:      "Currently attached stream subscribers.",
	})
)

// RecordExecution records one completed execution with its outcome
// (success, compile_error, runtime_error, timeout, aborted, internal)
// and duration in seconds.
func RecordExecution(outcome string, seconds float64) {
	executionsTotal.WithLabelValues(outcome).Inc()
	executionDuration.Observe(seconds)
}

// IncActiveExecutions marks an execution as started.
func IncActiveExecutions() { activeExecutions.Inc() }

// DecActiveExecutions marks an execution as finished.
func DecActiveExecutions() { activeExecutions.Dec() }

// SetPoolState publishes the pool gauges.
func SetPoolState(inUse, capacity int) {
	poolInUse.Set(float64(inUse))
	poolCapacity.Set(float64(capacity))
}

// RecordAdmissionRejected counts a fail-fast capacity rejection.
func RecordAdmissionRejected() { admissionRejected.Inc() }

// RecordBusPublish counts one published event and its fan-out.
func RecordBusPublish(deliveries int) {
	busPublished.Inc()
	busDelivered.Add(float64(deliveries))
}

// RecordBusDrop counts one event evicted from a subscriber buffer.
func RecordBusDrop() { busDropped.Inc() }

// SubscriberAttached increments the live subscriber gauge.
func SubscriberAttached() { subscribers.Inc() }

// SubscriberDetached decrements the live subscriber gauge.
func SubscriberDetached() { subscribers.Dec() }

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

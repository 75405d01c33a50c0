// Package health implements the liveness/readiness surface: spec.md §6's
// literal file-heartbeat contract (`continuous.healthcheck{dir,
// update_interval_seconds}`) plus the ambient `/healthz` + Prometheus
// `/metrics` HTTP surface the distilled spec leaves as infrastructure.
package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors the producer, consumer, and
// planning coordinator report into. Every recording method is nil-receiver
// safe so callers can hold a possibly-nil *Metrics without a branch at
// every call site, the same optional-component idiom teacher's
// `Server.workerPool`/`ContainerCleaner` fields use.
type Metrics struct {
	QueueDepth      prometheus.Gauge
	ActiveWorkers   prometheus.Gauge
	TasksProcessed  *prometheus.CounterVec
	ProducerPasses  *prometheus.CounterVec
	CompressionsRun *prometheus.CounterVec
}

// NewMetrics creates and registers every collector with Prometheus's
// default registry. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentrunner_queue_depth",
			Help: "Number of trigger-labeled items the producer's last pass discovered and dispatched.",
		}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentrunner_active_workers",
			Help: "Number of consumer loops currently processing a delivery (0 or 1 for a single-loop consumer).",
		}),
		TasksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrunner_tasks_processed_total",
			Help: "Total number of tasks landed in a terminal directory, by outcome.",
		}, []string{"outcome"}),
		ProducerPasses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrunner_producer_passes_total",
			Help: "Total number of producer run_once passes, by result.",
		}, []string{"result"}),
		CompressionsRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrunner_compressions_total",
			Help: "Total number of context-store compression passes, by outcome.",
		}, []string{"outcome"}),
	}
}

// SetQueueDepth records the producer's last-observed count of pending
// trigger-labeled items.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetActiveWorkers records how many consumer loops are mid-delivery.
func (m *Metrics) SetActiveWorkers(n int) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Set(float64(n))
}

// RecordTaskOutcome increments the processed-tasks counter for outcome
// (spec.md §4.2 terminal outcomes: completed/paused/stopped/failed).
func (m *Metrics) RecordTaskOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(outcome).Inc()
}

// RecordProducerPass increments the producer-passes counter for result
// ("ok" or "error").
func (m *Metrics) RecordProducerPass(result string) {
	if m == nil {
		return
	}
	m.ProducerPasses.WithLabelValues(result).Inc()
}

// RecordCompression increments the compressions counter for outcome
// ("compressed" or "skipped", per compress.ErrNotEnoughToCompress).
func (m *Metrics) RecordCompression(outcome string) {
	if m == nil {
		return
	}
	m.CompressionsRun.WithLabelValues(outcome).Inc()
}

// Package metrics exposes Prometheus collectors for ingestion activity.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediavault"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	actionDuration  *prometheus.HistogramVec
	pipelineResults *prometheus.CounterVec
	itemResults     *prometheus.CounterVec
	itemRetries     prometheus.Counter
	detections      *prometheus.CounterVec
	importsActive   prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the collectors registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors with reg, reusing any already registered
// under the same name. Other registration errors panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		actionDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "action_duration_seconds",
			Help:      "Time spent in each pipeline action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "outcome"})),
		pipelineResults: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final outcome.",
		}, []string{"outcome"})),
		itemResults: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "items_total",
			Help:      "Import items finished by status.",
		}, []string{"status"})),
		itemRetries: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "item_retries_total",
			Help:      "Import item attempts that ended in a scheduled retry.",
		})),
		detections: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "detections_total",
			Help:      "Duplicate detection runs by resulting status.",
		}, []string{"status"})),
		importsActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "discoveries_active",
			Help:      "Discovery runs currently in progress.",
		})),
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveAction records one action execution.
func (m *Metrics) ObserveAction(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.actionDuration.WithLabelValues(action, outcome).Observe(d.Seconds())
}

// ObservePipeline records the final outcome of a pipeline run.
func (m *Metrics) ObservePipeline(outcome string) {
	if m == nil {
		return
	}
	m.pipelineResults.WithLabelValues(outcome).Inc()
}

// IncItem counts a finished import item.
func (m *Metrics) IncItem(status string) {
	if m == nil {
		return
	}
	m.itemResults.WithLabelValues(status).Inc()
}

// IncItemRetry counts an item attempt that will be retried.
func (m *Metrics) IncItemRetry() {
	if m == nil {
		return
	}
	m.itemRetries.Inc()
}

// IncDetection counts a detection outcome.
func (m *Metrics) IncDetection(status string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(status).Inc()
}

// DiscoveryStarted marks a discovery run as active.
func (m *Metrics) DiscoveryStarted() {
	if m == nil {
		return
	}
	m.importsActive.Inc()
}

// DiscoveryFinished marks a discovery run as done.
func (m *Metrics) DiscoveryFinished() {
	if m == nil {
		return
	}
	m.importsActive.Dec()
}

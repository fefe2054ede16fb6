// Package metrics provides the Prometheus collectors of the progression service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "habittree"

// Metrics holds the service collectors in their own registry.
type Metrics struct {
	registry *prometheus.Registry

	toggles         *prometheus.CounterVec
	xpAwarded       prometheus.Counter
	levelUps        prometheus.Counter
	reconcileAction *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	progressEvents  *prometheus.CounterVec
}

// New creates the collectors and registers them in a new registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.toggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Completion toggles by direction and outcome",
		},
		[]string{"direction", "status"},
	)

	m.xpAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "XP granted by completions",
		},
	)

	m.levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Toggles that raised a user's level",
		},
	)

	m.reconcileAction = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Corrective actions taken when loading stats",
		},
		[]string{"action"},
	)

	m.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed document store operations",
		},
		[]string{"op"},
	)

	m.progressEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "Progress events by handling outcome",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(
		m.toggles,
		m.xpAwarded,
		m.levelUps,
		m.reconcileAction,
		m.storeErrors,
		m.progressEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordToggle counts a toggle. xp is the signed XP it moved.
func (m *Metrics) RecordToggle(completing bool, xp int, err error) {
	direction := "undo"
	if completing {
		direction = "complete"
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toggles.WithLabelValues(direction, status).Inc()
	if err == nil && xp > 0 {
		m.xpAwarded.Add(float64(xp))
	}
}

func (m *Metrics) RecordLevelUp() {
	m.levelUps.Inc()
}

func (m *Metrics) RecordReconcile(actions []string) {
	for _, action := range actions {
		m.reconcileAction.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) RecordStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// RecordProgressEvent counts a handled progress event; status is one of
// "recorded", "duplicate", "stale" or "error".
func (m *Metrics) RecordProgressEvent(status string) {
	m.progressEvents.WithLabelValues(status).Inc()
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

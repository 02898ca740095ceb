// Package metrics implements the core's Prometheus instrumentation: one
// registry per process, with a per-component NewXMetrics(registerer)
// constructor returning an interface of increment/observe methods,
// exactly as ingress/origins/metrics.go's NewMetrics and
// connection/metrics.go's per-component metric groups do.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "polyserve"

// ReactorMetrics instruments the reactor pool: per-loop task queue depth
// and recovered task panics, read by internal/diag's /metrics endpoint.
type ReactorMetrics interface {
	ObserveTaskQueueDepth(loop string, depth int)
	IncTaskPanic(loop string)
}

type reactorMetrics struct {
	taskQueueDepth *prometheus.GaugeVec
	taskPanics     *prometheus.CounterVec
}

// NewReactorMetrics registers and returns the reactor subsystem's
// metrics against registerer.
func NewReactorMetrics(registerer prometheus.Registerer) ReactorMetrics {
	m := &reactorMetrics{
		taskQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "task_queue_depth",
			Help:      "Number of tasks currently queued on a reactor loop.",
		}, []string{"loop"}),
		taskPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "task_panics_total",
			Help:      "Total panics recovered from a reactor loop task.",
		}, []string{"loop"}),
	}
	registerer.MustRegister(m.taskQueueDepth, m.taskPanics)
	return m
}

func (m *reactorMetrics) ObserveTaskQueueDepth(loop string, depth int) {
	m.taskQueueDepth.WithLabelValues(loop).Set(float64(depth))
}

func (m *reactorMetrics) IncTaskPanic(loop string) {
	m.taskPanics.WithLabelValues(loop).Inc()
}

// ConnectionMetrics instruments accepted connections per protocol and
// listener address, mirroring connection/metrics.go's tunnelMetrics
// counters narrowed to this core's protocol set.
type ConnectionMetrics interface {
	IncAccepted(protocol, addr string)
	IncClosed(protocol, addr string)
	ObserveLifetime(protocol string, d time.Duration)
}

type connectionMetrics struct {
	accepted *prometheus.CounterVec
	closed   *prometheus.CounterVec
	lifetime *prometheus.HistogramVec
}

// NewConnectionMetrics registers and returns the connection-lifecycle
// metrics against registerer.
func NewConnectionMetrics(registerer prometheus.Registerer) ConnectionMetrics {
	m := &connectionMetrics{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total connections accepted, by protocol and listener address.",
		}, []string{"protocol", "addr"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total connections closed, by protocol and listener address.",
		}, []string{"protocol", "addr"}),
		lifetime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "lifetime_seconds",
			Help:      "Connection lifetime in seconds, by protocol.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
	}
	registerer.MustRegister(m.accepted, m.closed, m.lifetime)
	return m
}

func (m *connectionMetrics) IncAccepted(protocol, addr string) {
	m.accepted.WithLabelValues(protocol, addr).Inc()
}

func (m *connectionMetrics) IncClosed(protocol, addr string) {
	m.closed.WithLabelValues(protocol, addr).Inc()
}

func (m *connectionMetrics) ObserveLifetime(protocol string, d time.Duration) {
	m.lifetime.WithLabelValues(protocol).Observe(d.Seconds())
}

// AuthMetrics instruments the SMTP auth pipeline's verdict counts, per
// spec §5's "Diagnostic snapshot" data model entry ("auth pipeline
// verdict counts").
type AuthMetrics interface {
	IncVerdict(check, verdict string)
}

type authMetrics struct {
	verdicts *prometheus.CounterVec
}

// NewAuthMetrics registers and returns the auth-pipeline verdict
// counters against registerer.
func NewAuthMetrics(registerer prometheus.Registerer) AuthMetrics {
	m := &authMetrics{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "verdicts_total",
			Help:      "Total SPF/DKIM/DMARC verdicts, by check and verdict.",
		}, []string{"check", "verdict"}),
	}
	registerer.MustRegister(m.verdicts)
	return m
}

func (m *authMetrics) IncVerdict(check, verdict string) {
	m.verdicts.WithLabelValues(check, verdict).Inc()
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func getGaugeValue(t *testing.T, metric *prometheus.GaugeVec, labels ...string) float64 {
	var m = &dto.Metric{}
	err := metric.WithLabelValues(labels...).Write(m)
	assert.NoError(t, err)
	return m.Gauge.GetValue()
}

func getCounterValue(t *testing.T, metric *prometheus.CounterVec, labels ...string) float64 {
	var m = &dto.Metric{}
	err := metric.WithLabelValues(labels...).Write(m)
	assert.NoError(t, err)
	return m.Counter.GetValue()
}

func TestReactorMetricsObserveTaskQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	rm := NewReactorMetrics(reg).(*reactorMetrics)

	rm.ObserveTaskQueueDepth("loop-0", 7)
	assert.Equal(t, 7.0, getGaugeValue(t, rm.taskQueueDepth, "loop-0"))

	rm.IncTaskPanic("loop-0")
	assert.Equal(t, 1.0, getCounterValue(t, rm.taskPanics, "loop-0"))
}

func TestConnectionMetricsAcceptedClosedLifetime(t *testing.T) {
	reg := prometheus.NewRegistry()
	cm := NewConnectionMetrics(reg).(*connectionMetrics)

	cm.IncAccepted("http/1.1", ":8080")
	cm.IncAccepted("http/1.1", ":8080")
	cm.IncClosed("http/1.1", ":8080")

	assert.Equal(t, 2.0, getCounterValue(t, cm.accepted, "http/1.1", ":8080"))
	assert.Equal(t, 1.0, getCounterValue(t, cm.closed, "http/1.1", ":8080"))
}

func TestAuthMetricsIncVerdict(t *testing.T) {
	reg := prometheus.NewRegistry()
	am := NewAuthMetrics(reg).(*authMetrics)

	am.IncVerdict("spf", "pass")
	am.IncVerdict("spf", "pass")
	am.IncVerdict("dkim", "fail")

	assert.Equal(t, 2.0, getCounterValue(t, am.verdicts, "spf", "pass"))
	assert.Equal(t, 1.0, getCounterValue(t, am.verdicts, "dkim", "fail"))
}

package diag

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakePool struct{ running bool }

func (p fakePool) Running() bool { return p.running }

func TestHealthzOKWhenPoolRunning(t *testing.T) {
	log := zerolog.Nop()
	s := New(fakePool{running: true}, prometheus.NewRegistry(), true, &log)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzUnavailableWhenPoolStopped(t *testing.T) {
	log := zerolog.Nop()
	s := New(fakePool{running: false}, prometheus.NewRegistry(), true, &log)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointGatedByFlag(t *testing.T) {
	log := zerolog.Nop()
	s := New(fakePool{running: true}, prometheus.NewRegistry(), false, &log)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointServesWhenEnabled(t *testing.T) {
	log := zerolog.Nop()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "diag_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(fakePool{running: true}, reg, true, &log)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "diag_test_total")
}

// Package diag implements the core's own diagnostic/admin surface:
// liveness, Prometheus metrics, and gated pprof profiles, mounted on its
// own listener, never a protocol listener's port.
//
// Grounded on the teacher's management/service.go: New's router
// construction and handler registration order, and the
// enableDiagServices gate around /metrics and /debug/pprof, are kept;
// the CORS middleware is dropped (no browser dashboard consumes this
// surface) and the WebSocket log-streaming handlers are dropped (there
// is no equivalent client event stream here — see DESIGN.md).
package diag

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PoolStatus is the subset of reactor.Pool state /healthz needs; declared
// here (rather than importing internal/reactor) to keep this package
// usable against any component that can answer "am I running".
type PoolStatus interface {
	Running() bool
}

// Service is the admin HTTP surface. The zero value is not usable;
// construct with New.
type Service struct {
	router chi.Router
}

// New builds the admin router. enableDiagServices gates /metrics and
// /debug/pprof, matching management.New's enableDiagServices flag.
// gatherer is typically prometheus.DefaultGatherer; a nil pool is
// treated as always-live.
func New(pool PoolStatus, gatherer prometheus.Gatherer, enableDiagServices bool, log *zerolog.Logger) *Service {
	s := &Service{}
	r := chi.NewRouter()

	r.Get("/healthz", s.healthz(pool))

	if enableDiagServices {
		handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		r.Get("/metrics", handler.ServeHTTP)
		r.Get("/debug/pprof/{profile:heap|goroutine}", pprof.Index)
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler, useful for tests and for mounting
// this surface under another router.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Service) healthz(pool PoolStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil && !pool.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

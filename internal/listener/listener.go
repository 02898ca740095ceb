// Package listener wires the transport layer (internal/transport), the
// reactor pool (internal/reactor) and the protocol engines (internal/http1,
// internal/http2, internal/http3, internal/ftp) into one bindable surface:
// a Server that owns a fixed reactor.Pool and a set of bound listeners,
// started together and torn down together.
//
// Grounded on the teacher's supervisor package: Server.Run mirrors
// supervisor.Supervisor.Run's errgroup.WithContext fan-out over
// independent long-running loops, and Shutdown mirrors its practice of
// canceling one shared context rather than threading per-loop stop
// signals by hand.
package listener

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/polyserve/internal/metrics"
	"github.com/flowmesh/polyserve/internal/reactor"
)

// reactorPollInterval is how often Run samples each loop's task queue
// depth into reactorMetrics, when set.
const reactorPollInterval = 2 * time.Second

// boundListener is satisfied by transport.TCPListener (used by the HTTP,
// FTP and SMTP bindings), transport.QUICListener and the diagnostic
// listener built in this package; Server only needs to start and close
// them.
type boundListener interface {
	Serve(ctx context.Context) error
	Close() error
}

// Server owns one reactor.Pool shared by every TCP-based binding, and the
// set of listeners bound against it. HTTP/3 bindings run their own
// per-connection goroutines instead (see transport.QUICListener), since
// quic-go connections are not single-goroutine state machines the way a
// TCP connection is.
type Server struct {
	pool      *reactor.Pool
	listeners []boundListener
	log       *zerolog.Logger
	conns     metrics.ConnectionMetrics // nil until SetConnectionMetrics is called
	auth      metrics.AuthMetrics       // nil until SetAuthMetrics is called
	reactorM  metrics.ReactorMetrics    // nil until SetReactorMetrics is called
}

// New creates a Server backed by a reactor.Pool of poolSize loops (<=0
// defaults to GOMAXPROCS, per reactor.NewPool).
func New(poolSize int, log *zerolog.Logger) *Server {
	return &Server{
		pool: reactor.NewPool(poolSize, log),
		log:  log,
	}
}

// Pool returns the reactor pool bindings are assigned onto, for
// diagnostics (queue depth, loop count) only.
func (s *Server) Pool() *reactor.Pool { return s.pool }

// SetConnectionMetrics wires per-protocol accept/close counters into
// every binding registered after this call. Optional: bindings work
// with a nil metrics.ConnectionMetrics, they just don't count anything.
func (s *Server) SetConnectionMetrics(m metrics.ConnectionMetrics) { s.conns = m }

// SetAuthMetrics wires SPF/DKIM/DMARC verdict counters into every SMTP
// binding registered after this call. Optional, like SetConnectionMetrics.
func (s *Server) SetAuthMetrics(m metrics.AuthMetrics) { s.auth = m }

// SetReactorMetrics enables periodic per-loop task queue depth sampling
// while Run is active. Optional: a nil value (the default) disables the
// sampling goroutine entirely.
func (s *Server) SetReactorMetrics(m metrics.ReactorMetrics) { s.reactorM = m }

// add registers a bound listener to be started by Run and stopped by
// Shutdown. Not safe to call once Run has started.
func (s *Server) add(l boundListener) {
	s.listeners = append(s.listeners, l)
}

// Run starts every bound listener's accept loop and the reactor pool's
// loops, and blocks until ctx is canceled or any one of them returns an
// error — at which point every other listener and loop is stopped too,
// exactly as supervisor.Supervisor.Run tears every subsystem down
// together when one of them fails.
func (s *Server) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.pool.Run(gctx)
	})
	if s.reactorM != nil {
		group.Go(func() error {
			s.pollReactorMetrics(gctx)
			return nil
		})
	}
	for _, l := range s.listeners {
		l := l
		group.Go(func() error {
			return l.Serve(gctx)
		})
	}

	err := group.Wait()
	for _, l := range s.listeners {
		l.Close()
	}
	return err
}

// pollReactorMetrics samples every loop's task queue depth into s.reactorM
// on a fixed interval until ctx is canceled, the same periodic-sample
// shape as h2mux's connection-level stats reporting.
func (s *Server) pollReactorMetrics(ctx context.Context) {
	ticker := time.NewTicker(reactorPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range s.pool.Loops() {
				s.reactorM.ObserveTaskQueueDepth(l.Name(), l.QueueDepth())
			}
		}
	}
}

// Shutdown stops accepting new connections on every bound listener and
// shuts down the reactor pool. It does not wait for in-flight connections
// to finish; callers wanting a drain period should cancel the context
// passed to Run after waiting, then call Shutdown once Run returns.
func (s *Server) Shutdown() {
	for _, l := range s.listeners {
		l.Close()
	}
	s.pool.Shutdown()
}

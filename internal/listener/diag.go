package listener

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmesh/polyserve/internal/diag"
)

// DiagBinding describes the admin surface's own listener, always
// separate from every protocol listener (spec requirement: "Diagnostic
// surface never serves on a protocol listener's port").
type DiagBinding struct {
	Addr               string
	Gatherer           prometheus.Gatherer // nil defaults to prometheus.DefaultGatherer
	EnableDiagServices bool
}

// BindDiag binds the admin surface's listener immediately (matching
// transport.ListenTCP's bind-at-construction-time contract, so Addr() is
// available to the caller before Run starts) and mounts it on its own
// net/http server, healthz-reporting on s's own reactor pool. It is not
// assigned onto the reactor pool or transport layer: see internal/diag's
// package doc for why.
func (s *Server) BindDiag(b DiagBinding) error {
	ln, err := net.Listen("tcp", b.Addr)
	if err != nil {
		return errors.Wrapf(err, "binding diagnostic listener %s", b.Addr)
	}
	gatherer := b.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	svc := diag.New(s.pool, gatherer, b.EnableDiagServices, s.log)
	s.add(&diagListener{ln: ln, svc: svc})
	return nil
}

type diagListener struct {
	ln  net.Listener
	svc *diag.Service
	srv *http.Server
}

// Addr returns the bound address, useful when Addr was "host:0".
func (d *diagListener) Addr() net.Addr { return d.ln.Addr() }

func (d *diagListener) Serve(ctx context.Context) error {
	d.srv = &http.Server{Handler: d.svc}
	errC := make(chan error, 1)
	go func() { errC <- d.srv.Serve(d.ln) }()

	select {
	case <-ctx.Done():
		return d.srv.Shutdown(context.Background())
	case err := <-errC:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (d *diagListener) Close() error {
	if d.srv != nil {
		return d.srv.Close()
	}
	return d.ln.Close()
}

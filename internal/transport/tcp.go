// Package transport implements the endpoint layer: TCP listeners with
// optional TLS, and a QUIC listener for HTTP/3. Each accepted TCP connection
// is assigned to a reactor loop and from then on is driven entirely by that
// loop's goroutine (QUIC connections are not; see QUICListener); transport itself only owns the accept loop and the
// raw net.Conn/quic.Connection handshake.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowmesh/polyserve/internal/reactor"
)

// idleTimeout and idleMaxRetries bound how long a registered connection
// may sit with no read activity before the owning loop closes it; the
// jittered-retry shape comes from reactor.IdleTimer (ported from
// h2mux's heartbeat/idle handling).
const (
	idleTimeout    = 90 * time.Second
	idleMaxRetries = 2
)

// ConnHandler is invoked once per accepted, TLS-handshaken connection, on
// the reactor loop it was assigned to. conn is a *reactor.Conn: the
// handler owns it from this point exactly as it would a raw net.Conn
// (reading, writing, eventually Close), but every write, idle-timeout
// check and close decision for it is actually arbitrated by loop — see
// reactor.Conn's doc comment.
type ConnHandler func(loop *reactor.Loop, conn net.Conn)

// TCPListener accepts stream connections (plain or TLS) and round-robins
// each one onto a reactor.Pool loop.
type TCPListener struct {
	ln        net.Listener
	tlsConfig *tls.Config
	pool      *reactor.Pool
	handler   ConnHandler
	log       *zerolog.Logger
}

// ListenTCP binds addr and wraps the resulting listener with tlsConfig if
// non-nil (TLS handshake happens per-connection in Serve, not at bind
// time, so a slow client's handshake cannot block new accepts).
func ListenTCP(addr string, tlsConfig *tls.Config, pool *reactor.Pool, handler ConnHandler, log *zerolog.Logger) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s", addr)
	}
	return &TCPListener{ln: ln, tlsConfig: tlsConfig, pool: pool, handler: handler, log: log}, nil
}

// Addr returns the bound address, useful when addr was "host:0".
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until ctx is canceled or the listener is
// closed. Each accepted connection is wrapped in TLS (if configured) on
// its own goroutine so a slow or hostile client's handshake cannot stall
// the accept loop, then handed to a pool loop.
func (l *TCPListener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return errors.Wrap(err, "accept")
		}
		go l.handshakeAndAssign(conn)
	}
}

func (l *TCPListener) handshakeAndAssign(conn net.Conn) {
	// connID correlates this connection's log lines across the handshake,
	// its assigned reactor loop, and whichever protocol engine ends up
	// serving it, the same way cloudflared tags a connection's lifetime
	// with one id end to end.
	connID := uuid.New().String()

	if l.tlsConfig != nil {
		tlsConn := tls.Server(conn, l.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			if l.log != nil {
				l.log.Debug().Err(err).Str("connID", connID).Str("remote", conn.RemoteAddr().String()).Msg("TLS handshake failed")
			}
			conn.Close()
			return
		}
		conn = tlsConn
	}
	if l.log != nil {
		l.log.Debug().Str("connID", connID).Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")
	}
	loop := l.pool.Next()
	loop.InvokeLater(func() {
		idle := reactor.NewIdleTimer(idleTimeout, idleMaxRetries)
		rc := reactor.NewConn(loop, conn, idle, l.log)
		l.handler(loop, rc)
	})
}

// Close closes the underlying listener.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

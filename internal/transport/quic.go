package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
)

// QUICHandler is invoked once per accepted QUIC connection (after the
// handshake has completed); it owns the quic.Connection's stream lifecycle
// from that point on, typically bridging it into the http3 package.
type QUICHandler func(ctx context.Context, conn quic.Connection)

// QUICListener accepts QUIC connections for HTTP/3. Unlike TCPListener it
// is not assigned onto the reactor.Pool: quic-go already runs its own
// per-connection goroutines, and the http3 bridge that consumes accepted
// connections manages its own stream-level concurrency (see internal/http3).
type QUICListener struct {
	ln      *quic.Listener
	handler QUICHandler
	log     *zerolog.Logger
}

// ListenQUIC binds addr for QUIC/HTTP3. tlsConfig.NextProtos should be set
// to []string{"h3"} by the caller.
func ListenQUIC(addr string, tlsConfig *tls.Config, quicConfig *quic.Config, handler QUICHandler, log *zerolog.Logger) (*QUICListener, error) {
	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "binding QUIC %s", addr)
	}
	return &QUICListener{ln: ln, handler: handler, log: log}, nil
}

func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is canceled. Each handler call runs
// on its own goroutine, since quic-go connections are inherently
// multi-stream and do not map onto a single reactor loop the way a TCP
// connection does.
func (l *QUICListener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.Wrap(err, "quic accept")
		}
		go func() {
			defer func() {
				if r := recover(); r != nil && l.log != nil {
					l.log.Error().Interface("panic", r).Msg("recovered from QUIC handler panic")
				}
			}()
			l.handler(ctx, conn)
		}()
	}
}

// Close closes the underlying QUIC listener.
func (l *QUICListener) Close() error {
	return l.ln.Close()
}

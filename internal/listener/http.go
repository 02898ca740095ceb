package listener

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/flowmesh/polyserve/internal/http1"
	"github.com/flowmesh/polyserve/internal/http2"
	"github.com/flowmesh/polyserve/internal/http3"
	"github.com/flowmesh/polyserve/internal/httpcontract"
	"github.com/flowmesh/polyserve/internal/metrics"
	"github.com/flowmesh/polyserve/internal/reactor"
	"github.com/flowmesh/polyserve/internal/transport"
	"github.com/flowmesh/polyserve/internal/websocket"
)

// HTTPBinding describes one bound address serving HTTP/1.1, and
// optionally HTTP/2 (over TLS ALPN or cleartext h2c upgrade), WebSocket
// upgrades, and HTTP/3 on the same address's UDP port.
type HTTPBinding struct {
	Addr           string
	TLSConfig      *tls.Config // nil for cleartext HTTP/1.1 (+h2c)
	Handler        httpcontract.Handler
	MaxHeaderBytes int

	EnableH2C       bool
	EnableWebSocket bool
	OnWebSocket     func(ctx context.Context, conn *websocket.Conn, req *httpcontract.Request)

	// H3 enables HTTP/3 on the same Addr's UDP port. TLSConfig must be
	// set; its NextProtos is overwritten to []string{"h3"} for the QUIC
	// listener, matching transport.ListenQUIC's documented contract.
	H3         bool
	QUICConfig *quic.Config
}

// BindHTTP binds an HTTPBinding's TCP (and, if enabled, QUIC) listeners
// onto s's reactor pool and registers them to be started by Run.
func (s *Server) BindHTTP(b HTTPBinding) error {
	if b.TLSConfig != nil && (b.H3 || len(b.TLSConfig.NextProtos) == 0) {
		b.TLSConfig = b.TLSConfig.Clone()
		b.TLSConfig.NextProtos = []string{"h2", "http/1.1"}
	}

	tcpHandler := func(loop *reactor.Loop, conn net.Conn) {
		go serveHTTPConn(loop, conn, b, s.conns, s.log)
	}
	tcpLn, err := transport.ListenTCP(b.Addr, b.TLSConfig, s.pool, tcpHandler, s.log)
	if err != nil {
		return errors.Wrapf(err, "binding HTTP listener %s", b.Addr)
	}
	s.add(tcpLn)

	if b.H3 {
		if b.TLSConfig == nil {
			return errors.Errorf("HTTP/3 binding %s requires TLSConfig", b.Addr)
		}
		h3TLS := b.TLSConfig.Clone()
		h3TLS.NextProtos = []string{"h3"}
		quicHandler := func(ctx context.Context, qconn quic.Connection) {
			start := time.Now()
			if s.conns != nil {
				s.conns.IncAccepted("h3", b.Addr)
			}
			cfg := http3.Config{}
			conn := http3.New(qconn, cfg, b.Handler, s.log)
			if err := conn.Serve(ctx); err != nil && s.log != nil {
				s.log.Debug().Err(err).Str("remote", qconn.RemoteAddr().String()).Msg("HTTP/3 connection ended")
			}
			if s.conns != nil {
				s.conns.IncClosed("h3", b.Addr)
				s.conns.ObserveLifetime("h3", time.Since(start))
			}
		}
		quicLn, err := transport.ListenQUIC(b.Addr, h3TLS, b.QUICConfig, quicHandler, s.log)
		if err != nil {
			return errors.Wrapf(err, "binding HTTP/3 listener %s", b.Addr)
		}
		s.add(quicLn)
	}
	return nil
}

// serveHTTPConn runs the request/response loop for one accepted
// connection, choosing the engine by ALPN (TLS) negotiation, falling
// back to HTTP/1.1 (with optional h2c/WebSocket upgrade) for cleartext
// connections. It runs on its own goroutine so the reactor loop that
// dispatched it stays free for other connections' tasks and timers.
func serveHTTPConn(loop *reactor.Loop, conn net.Conn, b HTTPBinding, conns metrics.ConnectionMetrics, log *zerolog.Logger) {
	defer conn.Close()

	start := time.Now()

	// A connection handed down from transport.TCPListener is a
	// *reactor.Conn wrapping the real socket (or *tls.Conn, after the TLS
	// handshake); unwrap to inspect ALPN negotiation, since Conn itself
	// only implements net.Conn, not tls.ConnectionState().
	rawConn := conn
	if rc, ok := conn.(*reactor.Conn); ok {
		rawConn = rc.Raw()
	}

	protocol := "http/1.1"
	if tlsConn, ok := rawConn.(*tls.Conn); ok && tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		protocol = "h2"
	}
	if conns != nil {
		conns.IncAccepted(protocol, b.Addr)
		defer func() {
			conns.IncClosed(protocol, b.Addr)
			conns.ObserveLifetime(protocol, time.Since(start))
		}()
	}

	if tlsConn, ok := rawConn.(*tls.Conn); ok {
		if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
			br := bufio.NewReader(conn)
			if err := http2.ReadPreface(br); err != nil {
				if log != nil {
					log.Debug().Err(err).Msg("invalid HTTP/2 client preface")
				}
				return
			}
			// The framer must read through br too, not conn directly: br
			// may already have buffered bytes past the 24-byte preface.
			h2 := http2.New(upgradedConn{br: br, Conn: conn}, http2.Config{}, b.Handler, log)
			if err := h2.Serve(); err != nil && log != nil {
				log.Debug().Err(err).Msg("HTTP/2 connection ended")
			}
			return
		}
	}

	opts := http1.Options{
		MaxHeaderBytes: b.MaxHeaderBytes,
		Log:            log,
	}
	if b.EnableH2C {
		opts.H2CUpgrade = h2cUpgradeHandler(b.Handler, log)
	}
	if b.EnableWebSocket && b.OnWebSocket != nil {
		opts.WebSocketUpgrade = webSocketUpgradeHandler(b.OnWebSocket, log)
	}

	c := http1.NewConn(conn, b.Handler, opts)
	if err := c.Serve(context.Background()); err != nil && log != nil {
		log.Debug().Err(err).Msg("HTTP/1.1 connection ended")
	}
}

// h2cUpgradeHandler builds the HTTP/1.1 Upgrade hook that switches a
// cleartext connection to HTTP/2 after a 101 response, per RFC 7540
// §3.2. The client's HTTP/1.1 request stands in for the client
// connection preface, so (unlike the TLS/ALPN path) no 24-byte preface
// is read back from the wire here.
func h2cUpgradeHandler(handler httpcontract.Handler, log *zerolog.Logger) http1.UpgradeHandler {
	return func(ctx context.Context, conn net.Conn, br *bufio.Reader, req *httpcontract.Request) error {
		if _, err := io.WriteString(conn, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n"); err != nil {
			return err
		}
		h2 := http2.New(upgradedConn{br: br, Conn: conn}, http2.Config{}, handler, log)
		return h2.Serve()
	}
}

// webSocketUpgradeHandler builds the HTTP/1.1 Upgrade hook for RFC 6455
// handshakes: computes Sec-WebSocket-Accept, writes the 101 response,
// then hands the connection to onUpgrade as a framed websocket.Conn.
func webSocketUpgradeHandler(onUpgrade func(context.Context, *websocket.Conn, *httpcontract.Request), log *zerolog.Logger) http1.UpgradeHandler {
	return func(ctx context.Context, conn net.Conn, br *bufio.Reader, req *httpcontract.Request) error {
		clientKey, ok := req.Header.Get("Sec-WebSocket-Key")
		if !ok {
			return errors.New("WebSocket upgrade missing Sec-WebSocket-Key")
		}
		accept := websocket.AcceptKey(clientKey)
		response := "HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
		if _, err := io.WriteString(conn, response); err != nil {
			return err
		}
		wsConn := websocket.NewConn(ctx, upgradedConn{br: br, Conn: conn}, log)
		onUpgrade(ctx, wsConn, req)
		return nil
	}
}

// upgradedConn bridges a connection's already-buffered bufio.Reader back
// into an io.ReadWriteCloser, so bytes the HTTP/1.1 parser read ahead of
// the upgrade boundary are not lost to the next protocol engine.
type upgradedConn struct {
	br *bufio.Reader
	net.Conn
}

func (u upgradedConn) Read(p []byte) (int, error) { return u.br.Read(p) }

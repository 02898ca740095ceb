package http1

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// UpgradeHandler is invoked when a request carries a recognized Upgrade
// header and the application accepted the switch; it takes ownership of
// conn's raw net.Conn (after the 101 response has been written) and never
// returns until the upgraded session ends.
type UpgradeHandler func(ctx context.Context, conn net.Conn, br *bufio.Reader, req *httpcontract.Request) error

// Conn drives the HTTP/1.1 request/response cycle on one TCP connection:
// request-line -> headers -> body -> complete, repeating for as many
// pipelined requests as Connection: keep-alive permits. Responses are
// written in the order requests arrived — per spec.md's pipelining
// invariant, the write side is serialized even though nothing here
// reorders it, since requests are also handled strictly in sequence.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer

	handler         httpcontract.Handler
	h2cUpgrade      UpgradeHandler
	websocketUpgrade UpgradeHandler

	maxHeaderBytes int
	writeMu        sync.Mutex
	log            *zerolog.Logger
}

type Options struct {
	MaxHeaderBytes   int
	H2CUpgrade       UpgradeHandler
	WebSocketUpgrade UpgradeHandler
	Log              *zerolog.Logger
}

func NewConn(raw net.Conn, handler httpcontract.Handler, opts Options) *Conn {
	return &Conn{
		raw:              raw,
		br:               bufio.NewReader(raw),
		bw:               bufio.NewWriter(raw),
		handler:          handler,
		h2cUpgrade:       opts.H2CUpgrade,
		websocketUpgrade: opts.WebSocketUpgrade,
		maxHeaderBytes:   opts.MaxHeaderBytes,
		log:              opts.Log,
	}
}

// Serve runs the request/response loop until the connection closes, an
// unrecoverable parse error occurs, or ctx is canceled. It never returns a
// nil error on early termination by the peer (io.EOF on a fresh request
// between pipelined requests is the normal, non-error termination and is
// translated to nil).
func (c *Conn) Serve(ctx context.Context) error {
	defer c.raw.Close()
	for {
		keepAlive, err := c.serveOne(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !keepAlive {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// serveOne parses and handles exactly one request, returning whether the
// connection should continue (keep-alive) or a non-nil err (io.EOF means
// the peer closed cleanly between requests).
func (c *Conn) serveOne(ctx context.Context) (bool, error) {
	parser := NewParser(c.br, c.maxHeaderBytes)

	line, err := parser.ReadRequestLine()
	if err != nil {
		return false, err
	}
	hdr, err := parser.ReadHeaders()
	if err != nil {
		return false, c.writeError(400, err)
	}

	switch DetectUpgrade(hdr) {
	case UpgradeH2C:
		if c.h2cUpgrade != nil {
			return c.dispatchUpgrade(ctx, c.h2cUpgrade, line, hdr)
		}
	case UpgradeWebSocket:
		if c.websocketUpgrade != nil {
			return c.dispatchUpgrade(ctx, c.websocketUpgrade, line, hdr)
		}
	}

	framing, contentLength, err := DetermineRequestBodyFraming(hdr)
	if err != nil {
		return false, c.writeError(400, err)
	}

	body := c.bodyReaderFor(framing, contentLength)
	req := &httpcontract.Request{
		Line:     c.requestLineOf(line),
		Header:   hdr,
		Body:     body,
		Context:  ctx,
		Protocol: httpcontract.ProtocolHTTP1,
	}

	rw := newResponseWriter(c)
	c.handler(rw, req)
	if err := rw.finish(); err != nil {
		return false, err
	}

	// Drain any unread body so the next pipelined request starts at the
	// right offset, even if the handler never consumed the body.
	for {
		_, err := body.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
	}

	return rw.keepAlive(hdr, line.Version), nil
}

func (c *Conn) dispatchUpgrade(ctx context.Context, upgrade UpgradeHandler, line RequestLine, hdr *headers.List) (bool, error) {
	req := &httpcontract.Request{
		Line:    c.requestLineOf(line),
		Header:  hdr,
		Context: ctx,
	}
	if err := upgrade(ctx, c.raw, c.br, req); err != nil {
		return false, err
	}
	// the upgrade handler owns the connection from here; Serve should stop.
	return false, io.EOF
}

func (c *Conn) requestLineOf(l RequestLine) headers.RequestLine {
	scheme := "http"
	if _, ok := underlyingConn(c.raw).(interface{ ConnectionState() tls.ConnectionState }); ok {
		scheme = "https"
	}
	return headers.RequestLine{Method: l.Method, Scheme: scheme, Path: l.Target}
}

// underlyingConn unwraps a connection that proxies a real transport
// socket (such as *reactor.Conn, the reactor substrate's net.Conn
// realization) so callers can type-assert on transport-specific state
// like tls.ConnectionState. Duck-typed on a local interface rather than
// importing internal/reactor, to keep this codec package below the
// substrate layer.
func underlyingConn(c net.Conn) net.Conn {
	if rc, ok := c.(interface{ Raw() net.Conn }); ok {
		return rc.Raw()
	}
	return c
}

func (c *Conn) bodyReaderFor(framing BodyFraming, contentLength int64) httpcontract.BodyReader {
	switch framing {
	case BodyChunked:
		return NewChunkedReader(c.br)
	case BodyContentLength:
		return &limitedBodyReader{r: c.br, remaining: contentLength}
	default:
		return emptyBody{}
	}
}

type emptyBody struct{}

func (emptyBody) Next() ([]byte, error) { return nil, io.EOF }

type limitedBodyReader struct {
	r         *bufio.Reader
	remaining int64
}

func (l *limitedBodyReader) Next() ([]byte, error) {
	if l.remaining <= 0 {
		return nil, io.EOF
	}
	readLen := l.remaining
	if readLen > 32*1024 {
		readLen = 32 * 1024
	}
	buf := make([]byte, readLen)
	n, err := io.ReadFull(l.r, buf)
	if err != nil {
		return nil, err
	}
	l.remaining -= int64(n)
	return buf[:n], nil
}

func (c *Conn) writeError(status int, cause error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	body := cause.Error()
	io.WriteString(c.bw, "HTTP/1.1 "+strconv.Itoa(status)+" Bad Request\r\n")
	io.WriteString(c.bw, "Content-Length: "+strconv.Itoa(len(body))+"\r\n")
	io.WriteString(c.bw, "Connection: close\r\n\r\n")
	io.WriteString(c.bw, body)
	return c.bw.Flush()
}

var reasonPhrases = map[int]string{
	200: "OK", 101: "Switching Protocols", 204: "No Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden",
	404: "Not Found", 405: "Method Not Allowed", 500: "Internal Server Error",
	501: "Not Implemented", 502: "Bad Gateway", 503: "Service Unavailable",
}

func reasonPhrase(code int) string {
	if p, ok := reasonPhrases[code]; ok {
		return p
	}
	return "Status " + strconv.Itoa(code)
}

func connectionTokenWants(h *headers.List) (closeRequested bool) {
	conn, ok := h.Get("Connection")
	if !ok {
		return false
	}
	return containsToken(conn, "close")
}

package websocket

import (
	"bytes"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// GorillaConn adapts a client-dialed *websocket.Conn (as returned by Dial
// for an upstream origin) into a plain io.ReadWriter, buffering the
// remainder of a partially-consumed message the way the teacher's
// GorillaConn does. The server engines in this module do not use it.
type GorillaConn struct {
	*websocket.Conn
	readBuf bytes.Buffer
}

// Dial opens a client WebSocket connection to an upstream origin using the
// standard RFC 6455 handshake, returning the raw HTTP response so callers
// can inspect non-101 status codes.
func Dial(rawURL string, header http.Header, tlsClientConfig *tls.Config) (*GorillaConn, *http.Response, error) {
	dialer := &websocket.Dialer{
		TLSClientConfig: tlsClientConfig,
	}
	conn, resp, err := dialer.Dial(rawURL, header)
	if err != nil {
		return nil, resp, errors.Wrap(err, "dialing websocket origin")
	}
	return &GorillaConn{Conn: conn}, resp, nil
}

// Read implements io.Reader over the underlying message-oriented
// *websocket.Conn, buffering any bytes read past what the caller asked for.
func (c *GorillaConn) Read(p []byte) (int, error) {
	if c.readBuf.Len() > 0 {
		return c.readBuf.Read(p)
	}

	_, msg, err := c.Conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	c.readBuf.Write(msg)
	return c.readBuf.Read(p)
}

// Write implements io.Writer, sending p as a single binary message.
func (c *GorillaConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetDeadline applies the same deadline to both directions of the
// underlying connection.
func (c *GorillaConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}

// IsUpgradeRequest reports whether req is a WebSocket upgrade request.
func IsUpgradeRequest(req *http.Request) bool {
	return websocket.IsWebSocketUpgrade(req)
}

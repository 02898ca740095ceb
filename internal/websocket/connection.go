package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	gobwas "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	// defaultPongWait is the round-trip budget the ping cadence is sized
	// against. No read deadline is derived from it: a peer that stops
	// answering pings is not detected here.
	defaultPongWait = 60 * time.Second

	// defaultPingPeriod must be less than defaultPongWait so a ping always
	// has time to round-trip before the peer's read times out.
	defaultPingPeriod = (defaultPongWait * 9) / 10
)

// PingPeriodContextKey lets a caller override the ping cadence via the
// context passed to NewConn, for tests that want a faster cycle.
type PingPeriodContextKey struct{}

// Conn is a server-side RFC 6455 connection over an already-upgraded
// io.ReadWriter (the raw net.Conn after the HTTP/1.1 101 response has been
// written). It satisfies httpcontract.Upgraded via Framer returning itself.
type Conn struct {
	rw  readWriter
	log *zerolog.Logger

	writeLock sync.Mutex
	done      bool
}

type readWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// NewConn wraps rw as a WebSocket connection and starts its keepalive
// pinger, which stops once ctx is canceled or Close is called.
func NewConn(ctx context.Context, rw readWriter, log *zerolog.Logger) *Conn {
	c := &Conn{rw: rw, log: log}
	go c.pinger(ctx)
	return c
}

// Framer implements httpcontract.Upgraded.
func (c *Conn) Framer() interface{} { return c }

// Read returns one deframed binary message's payload, per RFC 6455 §5.6.
func (c *Conn) Read(p []byte) (int, error) {
	data, err := wsutil.ReadClientBinary(c.rw)
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// Write sends p as a single binary message frame.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if c.done {
		return 0, errors.New("write to closed websocket connection")
	}
	if err := wsutil.WriteServerBinary(c.rw, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) pinger(ctx context.Context) {
	pongMessage := wsutil.Message{OpCode: gobwas.OpPong, Payload: []byte{}}

	ticker := time.NewTicker(c.pingPeriod(ctx))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			done, err := c.ping()
			if done {
				return
			}
			if err != nil && c.log != nil {
				c.log.Debug().Err(err).Msg("failed to write websocket ping")
			}
			if err := wsutil.HandleClientControlMessage(c.rw, pongMessage); err != nil && c.log != nil {
				c.log.Debug().Err(err).Msg("failed to handle websocket pong")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) ping() (bool, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if c.done {
		return true, nil
	}
	return false, wsutil.WriteServerMessage(c.rw, gobwas.OpPing, []byte{})
}

func (c *Conn) pingPeriod(ctx context.Context) time.Duration {
	if val := ctx.Value(PingPeriodContextKey{}); val != nil {
		if period, ok := val.(time.Duration); ok {
			return period
		}
	}
	return defaultPingPeriod
}

// Close stops further writes; a write already in progress completes first.
func (c *Conn) Close() error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.done = true
	return nil
}

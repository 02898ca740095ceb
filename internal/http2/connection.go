// Package http2 implements the RFC 7540 HTTP/2 connection and stream
// engine: frame codec and HPACK via golang.org/x/net/http2, connection-
// and stream-level flow control, the stream lifecycle state machine,
// SETTINGS negotiation and GOAWAY. It is grounded on the teacher's h2mux
// package (muxreader.go's frame-dispatch loop, muxwriter.go's writer event
// loop, muxedstream.go's flow-control bookkeeping, activestreammap.go's
// stream-id discipline) but replaces h2mux's custom tunnel-magic
// handshake with the real client preface defined by RFC 7540 §3.5.
package http2

import (
	"bufio"
	"io"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// ClientPreface is the 24-byte magic RFC 7540 §3.5 requires before any
// frame on a new connection.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Config tunes per-connection engine behavior; zero value uses the RFC
// 7540 defaults.
type Config struct {
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxConcurrentStreams uint32
	MaxHeaderListSize    uint32
	IdleTimeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = defaultInitialWindow
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 1 << 14
	}
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = 250
	}
	if c.MaxHeaderListSize == 0 {
		c.MaxHeaderListSize = 1 << 20
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	return c
}

// Connection drives one HTTP/2 connection's frame dispatch loop. Writes
// are serialized through writeMu since the framer itself is not
// goroutine-safe; reads happen only on the goroutine running Serve.
type Connection struct {
	conn   io.ReadWriteCloser
	framer *http2.Framer
	cfg    Config
	log    *zerolog.Logger

	handler httpcontract.Handler

	writeMu sync.Mutex

	streams           *streamMap
	connSendWindow    int64
	connReceiveWindow int64

	hpackDecoder *hpack.Decoder
	hpackEncoder *hpack.Encoder
	encBuf       *bytesBuffer

	peerInitialWindow uint32
	goAwaySent        bool
	goAwayReceived    bool
}

// bytesBuffer is the minimal growable-buffer interface hpack.NewEncoder
// needs; kept as a tiny indirection so encode buffers can be pooled later
// without changing callers.
type bytesBuffer = byteSliceWriter

type byteSliceWriter struct {
	b []byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *byteSliceWriter) Reset() { w.b = w.b[:0] }

// New creates a Connection. The caller must have already validated the
// client preface (see ReadPreface) before constructing this, since the
// framer assumes frames start immediately.
func New(conn io.ReadWriteCloser, cfg Config, handler httpcontract.Handler, log *zerolog.Logger) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		conn:              conn,
		cfg:               cfg,
		log:               log,
		handler:           handler,
		streams:           newStreamMap(),
		connSendWindow:    defaultInitialWindow,
		connReceiveWindow: int64(cfg.InitialWindowSize),
		peerInitialWindow: defaultInitialWindow,
		encBuf:            &byteSliceWriter{},
	}
	c.framer = http2.NewFramer(conn, conn)
	c.framer.SetMaxReadFrameSize(cfg.MaxFrameSize)
	c.hpackDecoder = hpack.NewDecoder(4096, nil)
	c.framer.ReadMetaHeaders = c.hpackDecoder
	c.hpackEncoder = hpack.NewEncoder(c.encBuf)
	return c
}

// ReadPreface consumes and validates the 24-byte client connection
// preface. Per spec §4.D, a mismatch is a connection error with no
// GOAWAY emitted — just close.
func ReadPreface(r *bufio.Reader) error {
	buf := make([]byte, len(ClientPreface))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if string(buf) != ClientPreface {
		return errors.New("invalid HTTP/2 client preface")
	}
	return nil
}

// Serve sends the initial SETTINGS frame and runs the read-dispatch loop
// until the connection closes or a connection error occurs.
func (c *Connection) Serve() error {
	if err := c.sendInitialSettings(); err != nil {
		return err
	}
	for {
		fr, err := c.framer.ReadFrame()
		if err != nil {
			return err
		}
		if err := c.dispatch(fr); err != nil {
			if connErr, ok := err.(*ConnError); ok {
				c.sendGoAway(connErr.Code)
				return connErr
			}
			if streamErr, ok := err.(*StreamError); ok {
				c.resetStream(streamErr.StreamID, streamErr.Code)
				continue
			}
			return err
		}
	}
}

func (c *Connection) sendInitialSettings() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteSettings(
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: c.cfg.InitialWindowSize},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: c.cfg.MaxFrameSize},
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: c.cfg.MaxConcurrentStreams},
		http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: c.cfg.MaxHeaderListSize},
	)
}

func (c *Connection) dispatch(fr http2.Frame) error {
	switch f := fr.(type) {
	case *http2.SettingsFrame:
		return c.handleSettings(f)
	case *http2.MetaHeadersFrame:
		return c.handleHeaders(f)
	case *http2.DataFrame:
		return c.handleData(f)
	case *http2.WindowUpdateFrame:
		return c.handleWindowUpdate(f)
	case *http2.RSTStreamFrame:
		return c.handleRSTStream(f)
	case *http2.PingFrame:
		return c.handlePing(f)
	case *http2.GoAwayFrame:
		c.goAwayReceived = true
		return nil
	case *http2.PriorityFrame:
		if f.StreamDep == f.StreamID {
			return connError(errCodeProtocol, "stream cannot depend on itself")
		}
		return nil
	default:
		// Unknown or unsupported frame types are ignored per RFC 7540
		// §4.1 ("implementations MUST ignore and discard frames of
		// unknown types").
		return nil
	}
}

func (c *Connection) handleSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	var initialWindowDelta int64
	f.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingInitialWindowSize:
			initialWindowDelta = int64(s.Val) - int64(c.peerInitialWindow)
			c.peerInitialWindow = s.Val
		}
		return nil
	})
	if initialWindowDelta != 0 {
		for _, s := range c.streams.All() {
			s.adjustInitialWindow(initialWindowDelta)
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteSettingsAck()
}

func (c *Connection) handleHeaders(f *http2.MetaHeadersFrame) error {
	if f.Truncated {
		return connError(errCodeCompression, "header list exceeds max size")
	}
	fields := make([]headers.Field, 0, len(f.Fields))
	for _, hf := range f.Fields {
		fields = append(fields, headers.Field{Name: hf.Name, Value: hf.Value})
	}
	pseudo, regular := headers.Split(fields)
	reqLine, err := headers.ParseRequestPseudo(pseudo)
	if err != nil {
		return streamError(f.StreamID, errCodeProtocol, err.Error())
	}

	s := newStream(f.StreamID, c, int64(c.peerInitialWindow), int64(c.cfg.InitialWindowSize))
	if err := c.streams.AcceptPeerStream(s); err != nil {
		return err
	}
	if err := s.transition(StateOpen); err != nil {
		return err
	}
	s.reqLine = reqLine
	s.reqHeader = headers.New()
	for _, r := range regular {
		s.reqHeader.Add(r.Name, r.Value)
	}

	if f.StreamEnded() {
		s.endStreamSeen = true
		if err := s.transition(StateHalfClosedRemote); err != nil {
			return err
		}
		s.pushInbound(nil)
	}

	go c.invokeHandler(s)
	return nil
}

func (c *Connection) handleData(f *http2.DataFrame) error {
	s, ok := c.streams.Get(f.StreamID)
	if !ok {
		return connError(errCodeProtocol, "DATA on unknown stream")
	}
	data := f.Data()
	n := int64(len(data))
	if n > 0 {
		payload := make([]byte, n)
		copy(payload, data)
		s.pushInbound(payload)
	}
	c.connReceiveWindow -= n
	if increment := s.consumeReceiveWindow(n); increment > 0 {
		c.writeMu.Lock()
		c.framer.WriteWindowUpdate(f.StreamID, uint32(increment))
		c.writeMu.Unlock()
	}
	if c.connReceiveWindow < int64(c.cfg.InitialWindowSize)/2 {
		increment := int64(c.cfg.InitialWindowSize) - c.connReceiveWindow
		c.writeMu.Lock()
		c.framer.WriteWindowUpdate(0, uint32(increment))
		c.writeMu.Unlock()
		c.connReceiveWindow += increment
	}
	if f.StreamEnded() {
		s.endStreamSeen = true
		s.pushInbound(nil)
		return s.transition(StateHalfClosedRemote)
	}
	return nil
}

func (c *Connection) handleWindowUpdate(f *http2.WindowUpdateFrame) error {
	if f.StreamID == 0 {
		newWindow := c.connSendWindow + int64(f.Increment)
		if newWindow > maxWindowSize {
			return connError(errCodeFlowControl, "connection send window overflow")
		}
		c.connSendWindow = newWindow
		return nil
	}
	s, ok := c.streams.Get(f.StreamID)
	if !ok {
		return nil // stream already closed; ignore per RFC 7540 §6.9
	}
	return s.applyWindowUpdate(int64(f.Increment))
}

func (c *Connection) handleRSTStream(f *http2.RSTStreamFrame) error {
	s, ok := c.streams.Get(f.StreamID)
	if !ok {
		return nil
	}
	s.rstSeen = true
	c.streams.Delete(f.StreamID)
	return nil
}

func (c *Connection) handlePing(f *http2.PingFrame) error {
	if f.IsAck() {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WritePing(true, f.Data)
}

func (c *Connection) resetStream(id uint32, code http2.ErrCode) {
	c.writeMu.Lock()
	c.framer.WriteRSTStream(id, code)
	c.writeMu.Unlock()
	c.streams.Delete(id)
}

func (c *Connection) sendGoAway(code http2.ErrCode) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.goAwaySent {
		return
	}
	c.goAwaySent = true
	c.framer.WriteGoAway(c.streams.maxPeerStreamID, code, nil)
}

// Shutdown sends GOAWAY and waits for open streams to drain (or the
// deadline to pass), per spec's graceful-shutdown expectations.
func (c *Connection) Shutdown(deadline time.Time) {
	c.sendGoAway(http2.ErrCodeNo)
	select {
	case <-c.streams.Shutdown():
	case <-time.After(time.Until(deadline)):
	}
}

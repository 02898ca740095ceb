package http3

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"
	"github.com/rs/zerolog"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// streamTypeControl is the unidirectional stream type byte RFC 9114 §3.2.1
// assigns to the HTTP/3 control stream.
const streamTypeControl = 0x00

// ActiveStreams counts open HTTP/3 request streams across all connections,
// mirroring internal/http2's gauge of the same name and grounded on the
// same h2mux/activestreammap.go pattern.
var ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "polyserve",
	Subsystem: "http3",
	Name:      "active_streams",
	Help:      "Number of open HTTP/3 request streams across all connections.",
})

func init() {
	prometheus.MustRegister(ActiveStreams)
}

// Config tunes a Connection's behavior.
type Config struct {
	MaxFieldSectionSize uint64
}

func (c Config) withDefaults() Config {
	if c.MaxFieldSectionSize == 0 {
		c.MaxFieldSectionSize = 1 << 20
	}
	return c
}

// Connection bridges one QUIC connection into repeated HTTP/3 request
// dispatch, the same role internal/http2.Connection plays for one TCP
// connection's HTTP/2 frame stream.
type Connection struct {
	quicConn quic.Connection
	cfg      Config
	handler  httpcontract.Handler
	log      *zerolog.Logger

	mu            sync.Mutex
	streams       map[quic.StreamID]*requestStream
	shuttingDown  bool
	streamsEmptyC chan struct{}

	controlStream quic.SendStream
}

// New creates a Connection over an already-accepted QUIC connection.
func New(quicConn quic.Connection, cfg Config, handler httpcontract.Handler, log *zerolog.Logger) *Connection {
	return &Connection{
		quicConn:      quicConn,
		cfg:           cfg.withDefaults(),
		handler:       handler,
		log:           log,
		streams:       make(map[quic.StreamID]*requestStream),
		streamsEmptyC: make(chan struct{}),
	}
}

// Serve opens the outgoing control stream, sends SETTINGS, and accepts
// request streams until ctx is canceled or the connection errors.
func (c *Connection) Serve(ctx context.Context) error {
	if err := c.openControlStream(); err != nil {
		return errors.Wrap(err, "opening HTTP/3 control stream")
	}
	go c.acceptControlStreams(ctx)

	for {
		qs, err := c.quicConn.AcceptStream(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.Wrap(err, "accepting HTTP/3 request stream")
		}
		go c.handleRequestStream(qs)
	}
}

func (c *Connection) openControlStream() error {
	str, err := c.quicConn.OpenUniStream()
	if err != nil {
		return err
	}
	c.controlStream = str
	b := quicvarint.Append(make([]byte, 0, 8), streamTypeControl)
	sf := &settingsFrame{maxFieldSectionSize: c.cfg.MaxFieldSectionSize}
	payload := sf.appendTo(nil)
	b = writeFrameHeader(b, frameTypeSettings, uint64(len(payload)))
	b = append(b, payload...)
	_, err = str.Write(b)
	return err
}

// acceptControlStreams drains the peer's unidirectional streams. Only the
// peer's own control stream (carrying its SETTINGS) is meaningful here;
// QPACK encoder/decoder streams are accepted and ignored since this engine
// never instructs the peer's dynamic table.
func (c *Connection) acceptControlStreams(ctx context.Context) {
	for {
		str, err := c.quicConn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go c.drainUniStream(str)
	}
}

func (c *Connection) drainUniStream(str quic.ReceiveStream) {
	br := bufio.NewReader(str)
	streamType, err := quicvarint.Read(br)
	if err != nil {
		return
	}
	if streamType != streamTypeControl {
		io.Copy(io.Discard, br)
		return
	}
	frameType, length, err := readFrameHeader(br)
	if err != nil || frameType != frameTypeSettings {
		return
	}
	payload, err := readFramePayload(br, length)
	if err != nil {
		return
	}
	if _, err := parseSettingsFrame(payload); err != nil && c.log != nil {
		c.log.Warn().Err(err).Msg("malformed peer SETTINGS frame")
	}
	io.Copy(io.Discard, br)
}

func (c *Connection) handleRequestStream(qs quic.Stream) {
	defer func() {
		if r := recover(); r != nil && c.log != nil {
			c.log.Error().Interface("panic", r).Msg("recovered from HTTP/3 stream handler panic")
		}
	}()

	br := bufio.NewReader(qs)
	frameType, length, err := readFrameHeader(br)
	if err != nil {
		qs.CancelRead(streamErrCode(errCodeFrameError))
		return
	}
	if frameType != frameTypeHeaders {
		qs.CancelRead(streamErrCode(errCodeFrameUnexpected))
		return
	}
	payload, err := readFramePayload(br, length)
	if err != nil {
		qs.CancelRead(streamErrCode(errCodeFrameError))
		return
	}
	decoder := qpack.NewDecoder(func(qpack.HeaderField) {})
	fields, err := decoder.DecodeFull(payload)
	if err != nil {
		qs.CancelRead(streamErrCode(errCodeQPACKDecompressionFailed))
		return
	}

	hfields := make([]headers.Field, 0, len(fields))
	for _, f := range fields {
		hfields = append(hfields, headers.Field{Name: f.Name, Value: f.Value})
	}
	pseudo, regular := headers.Split(hfields)
	reqLine, err := headers.ParseRequestPseudo(pseudo)
	if err != nil {
		qs.CancelRead(streamErrCode(errCodeMessageError))
		return
	}

	s := newRequestStream(qs, c)
	s.reqLine = reqLine
	s.reqHeader = headers.New()
	for _, r := range regular {
		s.reqHeader.Add(r.Name, r.Value)
	}

	if !c.registerStream(s) {
		qs.CancelRead(streamErrCode(errCodeRequestRejected))
		s.closeWrites()
		return
	}
	defer c.removeStream(s)

	go c.invokeHandler(s)
	c.pumpBody(s, br)
}

// pumpBody reads DATA frames off the request stream after HEADERS and feeds
// them to the stream's inbound queue, until the peer half-closes or resets.
func (c *Connection) pumpBody(s *requestStream, br *bufio.Reader) {
	for {
		frameType, length, err := readFrameHeader(br)
		if err != nil {
			s.mu.Lock()
			s.endStreamSeen = true
			s.mu.Unlock()
			s.pushInbound(nil)
			return
		}
		switch frameType {
		case frameTypeData:
			payload, err := readFramePayload(br, length)
			if err != nil {
				s.pushInbound(nil)
				return
			}
			s.pushInbound(payload)
		default:
			// Unknown or irrelevant frame type on a request stream (e.g. a
			// misplaced SETTINGS): skip its payload per RFC 9114 §9.
			io.CopyN(io.Discard, br, int64(length))
		}
	}
}

func (c *Connection) registerStream(s *requestStream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shuttingDown {
		return false
	}
	c.streams[s.id] = s
	ActiveStreams.Inc()
	return true
}

func (c *Connection) removeStream(s *requestStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.streams[s.id]; !ok {
		return
	}
	delete(c.streams, s.id)
	ActiveStreams.Dec()
	if c.shuttingDown && len(c.streams) == 0 {
		close(c.streamsEmptyC)
	}
}

// Shutdown sends GOAWAY on the control stream, refusing any request stream
// accepted afterward, and returns a channel that closes once every
// in-flight stream has finished draining.
func (c *Connection) Shutdown() <-chan struct{} {
	c.mu.Lock()
	already := c.shuttingDown
	c.shuttingDown = true
	empty := len(c.streams) == 0
	c.mu.Unlock()

	if !already && c.controlStream != nil {
		b := writeFrameHeader(nil, frameTypeGoAway, 1)
		b = quicvarint.Append(b, 0)
		c.controlStream.Write(b)
	}
	if empty {
		c.mu.Lock()
		select {
		case <-c.streamsEmptyC:
		default:
			close(c.streamsEmptyC)
		}
		c.mu.Unlock()
	}
	return c.streamsEmptyC
}

func streamErrCode(code uint64) quic.StreamErrorCode {
	return quic.StreamErrorCode(code)
}

// HTTP/3 error codes this bridge emits, per RFC 9114 §8.1.
const (
	errCodeFrameError               = 0x106
	errCodeFrameUnexpected          = 0x105
	errCodeQPACKDecompressionFailed = 0x200
	errCodeMessageError             = 0x10E
	errCodeRequestRejected          = 0x10B
)

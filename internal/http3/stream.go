package http3

import (
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// requestStream is one HTTP/3 request: a QUIC bidirectional stream plus the
// request line/headers decoded from its leading HEADERS frame. Unlike
// internal/http2.Stream it does not track a byte-accounted send/receive
// window of its own — QUIC already applies stream- and connection-level
// flow control beneath quic.Stream.Write/Read, so a blocked Write here is
// itself the backpressure signal, not something this layer recomputes.
type requestStream struct {
	id   quic.StreamID
	conn *Connection
	qs   quic.Stream

	mu    sync.Mutex
	state streamState

	reqLine   headers.RequestLine
	reqHeader *headers.List

	pendingIn     [][]byte
	readyC        chan struct{}
	endStreamSeen bool

	// outQueue holds body chunks queued by WriteBody faster than the
	// writer goroutine can drain them onto the QUIC stream; writeLoop
	// drains it one chunk at a time, blocking on qs.Write — and therefore
	// resuming automatically once QUIC's own congestion/flow control
	// frees send-buffer space after the peer ACKs prior packets.
	outQueue  chan []byte
	outDone   chan struct{}
	closeOnce sync.Once
}

type streamState int

const (
	streamOpen streamState = iota
	streamHalfClosedRemote
	streamHalfClosedLocal
	streamClosed
)

func newRequestStream(qs quic.Stream, conn *Connection) *requestStream {
	s := &requestStream{
		id:       qs.StreamID(),
		conn:     conn,
		qs:       qs,
		state:    streamOpen,
		readyC:   make(chan struct{}, 1),
		outQueue: make(chan []byte, 16),
		outDone:  make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// writeLoop serializes DATA frame writes onto the underlying QUIC stream,
// one queued chunk at a time, so WriteBody never itself blocks on the
// network — it only blocks if the queue (16 chunks deep) is full, which
// caps how far a slow reader lets a fast handler get ahead.
func (s *requestStream) writeLoop() {
	defer close(s.outDone)
	for chunk := range s.outQueue {
		if len(chunk) == 0 {
			continue
		}
		hdr := writeFrameHeader(make([]byte, 0, 16), frameTypeData, uint64(len(chunk)))
		if _, err := s.qs.Write(hdr); err != nil {
			return
		}
		if _, err := s.qs.Write(chunk); err != nil {
			return
		}
	}
}

// queueBody enqueues a body chunk for asynchronous write; it blocks only if
// the writer goroutine has fallen 16 chunks behind.
func (s *requestStream) queueBody(p []byte) {
	if len(p) == 0 {
		return
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	s.outQueue <- cp
}

// closeWrites stops the writer goroutine and closes the QUIC stream's send
// side once all queued chunks have drained.
func (s *requestStream) closeWrites() {
	s.closeOnce.Do(func() { close(s.outQueue) })
	<-s.outDone
	s.qs.Close()
}

func (s *requestStream) pushInbound(p []byte) {
	s.mu.Lock()
	if len(p) > 0 {
		s.pendingIn = append(s.pendingIn, p)
	}
	s.mu.Unlock()
	select {
	case s.readyC <- struct{}{}:
	default:
	}
}

func (s *requestStream) dataReady() <-chan struct{} { return s.readyC }

func (s *requestStream) Request(protocol httpcontract.Protocol) *httpcontract.Request {
	return &httpcontract.Request{
		Line:     s.reqLine,
		Header:   s.reqHeader,
		Protocol: protocol,
	}
}

package http2

import (
	"sync"

	"golang.org/x/net/http2"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

const (
	errCodeProtocol      = http2.ErrCodeProtocol
	errCodeFlowControl   = http2.ErrCodeFlowControl
	errCodeFrameSize     = http2.ErrCodeFrameSize
	errCodeCompression   = http2.ErrCodeCompression
	errCodeStreamClosed  = http2.ErrCodeStreamClosed
	errCodeRefusedStream = http2.ErrCodeRefusedStream
	errCodeCancel        = http2.ErrCodeCancel
	errCodeInternal      = http2.ErrCodeInternal
)

// State is a stream's position in the RFC 7540 §5.1 state machine. Only
// the states a server-side stream can occupy are modeled; reserved-local
// is unused since this engine does not implement server push generation
// from within a stream it did not open.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateHalfClosedRemote // client sent END_STREAM; server may still send
	StateHalfClosedLocal  // server sent END_STREAM; client may still send
	StateReservedLocal    // server pushed a promise, not yet opened
	StateClosed
)

const (
	defaultInitialWindow = 65535
	maxWindowSize        = (1 << 31) - 1
)

// Stream is one HTTP/2 stream within a Connection.
type Stream struct {
	id    uint32
	conn  *Connection
	mu    sync.Mutex
	state State

	sendWindow    int64
	receiveWindow int64
	// receiveWindowMax is the window size advertised to the peer. It keeps
	// its initial value; consumeReceiveWindow compares consumed bytes
	// against half of it.
	receiveWindowMax int64
	consumedSinceAck int64

	reqHeader  *headers.List
	reqLine    headers.RequestLine
	pendingOut [][]byte // queued DATA awaiting send-window

	pendingIn [][]byte // received DATA not yet consumed by the handler
	readyC    chan struct{}

	endStreamSeen bool
	rstSeen       bool
}

func newStream(id uint32, conn *Connection, initialSendWindow, initialReceiveWindow int64) *Stream {
	return &Stream{
		id:               id,
		conn:             conn,
		state:            StateIdle,
		sendWindow:       initialSendWindow,
		receiveWindow:    initialReceiveWindow,
		receiveWindowMax: initialReceiveWindow,
		readyC:           make(chan struct{}, 1),
	}
}

func (s *Stream) ID() uint32 { return s.id }

// transition validates and applies a state change. Illegal transitions
// return a StreamError per RFC 7540 §5.1's explicit transition table.
func (s *Stream) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isLegalTransition(s.state, to) {
		return streamError(s.id, errCodeProtocol, "illegal stream state transition")
	}
	closing := s.state == StateHalfClosedRemote && to == StateHalfClosedLocal
	s.state = to
	if closing {
		// Both sides have now sent END_STREAM: the stream is closed and
		// leaves the connection's stream map.
		s.state = StateClosed
		if s.conn != nil {
			s.conn.streams.Delete(s.id)
		}
	}
	return nil
}

func isLegalTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	switch to {
	case StateOpen:
		return from == StateIdle
	case StateHalfClosedRemote:
		return from == StateOpen || from == StateReservedLocal
	case StateHalfClosedLocal:
		return from == StateOpen || from == StateHalfClosedRemote
	case StateClosed:
		return true
	case StateReservedLocal:
		return from == StateIdle
	default:
		return false
	}
}

// applyWindowUpdate adds increment to the stream's send window, per
// RFC 7540 §6.9: it is a connection error (FLOW_CONTROL_ERROR) if this
// would overflow the 31-bit window.
func (s *Stream) applyWindowUpdate(increment int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newWindow := s.sendWindow + increment
	if newWindow > maxWindowSize {
		return connError(errCodeFlowControl, "stream send window overflow")
	}
	s.sendWindow = newWindow
	return nil
}

// consumeSendWindow deducts n bytes from the stream's send window as DATA
// is emitted. Caller must have already checked n <= sendWindow.
func (s *Stream) consumeSendWindow(n int64) {
	s.mu.Lock()
	s.sendWindow -= n
	s.mu.Unlock()
}

func (s *Stream) availableSendWindow() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWindow
}

// consumeReceiveWindow accounts for n bytes of DATA received. It returns
// the WINDOW_UPDATE increment to send back to the peer, or 0 if none is
// due yet — per spec.md §4.D, an update is issued once consumed bytes
// cross half of the advertised window, mirroring h2mux.MuxedStream's
// consumeReceiveWindow without its window growth.
func (s *Stream) consumeReceiveWindow(n int64) (increment int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveWindow -= n
	s.consumedSinceAck += n
	if s.consumedSinceAck >= s.receiveWindowMax/2 {
		increment = s.consumedSinceAck
		s.receiveWindow += increment
		s.consumedSinceAck = 0
	}
	return increment
}

// adjustInitialWindow applies a SETTINGS_INITIAL_WINDOW_SIZE change
// retroactively, per RFC 7540 §6.9.2.
func (s *Stream) adjustInitialWindow(delta int64) {
	s.mu.Lock()
	s.sendWindow += delta
	s.mu.Unlock()
}

func (s *Stream) queueData(p []byte) {
	s.mu.Lock()
	s.pendingOut = append(s.pendingOut, p)
	s.mu.Unlock()
}

// dequeueUpTo pops queued DATA up to n bytes total, for
// responseWriter.flush; it may return less than n bytes or nothing at
// all. There is no cross-stream scheduler: a stream's queue is drained
// only by its own WriteBody/EndBody calls.
func (s *Stream) dequeueUpTo(n int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingOut) == 0 {
		return nil
	}
	var out []byte
	for len(s.pendingOut) > 0 && int64(len(out)) < n {
		head := s.pendingOut[0]
		remaining := n - int64(len(out))
		if int64(len(head)) <= remaining {
			out = append(out, head...)
			s.pendingOut = s.pendingOut[1:]
		} else {
			out = append(out, head[:remaining]...)
			s.pendingOut[0] = head[remaining:]
		}
	}
	return out
}

func (s *Stream) hasPendingData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingOut) > 0
}

// pushInbound appends a received DATA payload for the handler to consume
// and wakes any goroutine blocked in dataReady.
func (s *Stream) pushInbound(p []byte) {
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

// dataReady returns a channel that receives a value whenever new inbound
// data (or end-of-stream) may be available; callers must re-check state
// under the lock after waking, since the signal is a hint, not a
// guarantee.
func (s *Stream) dataReady() <-chan struct{} {
	return s.readyC
}

// Request builds the protocol-agnostic contract Request once headers are
// complete.
func (s *Stream) Request(ctx httpcontract.Protocol) *httpcontract.Request {
	return &httpcontract.Request{
		Line:     s.reqLine,
		Header:   s.reqHeader,
		Protocol: ctx,
	}
}

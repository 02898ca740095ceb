package http2

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveStreams is a process-wide gauge of open HTTP/2 streams across all
// connections, exported on the diagnostics surface.
var ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "polyserve",
	Subsystem: "http2",
	Name:      "active_streams",
	Help:      "Number of open HTTP/2 streams across all connections.",
})

func init() {
	prometheus.MustRegister(ActiveStreams)
}

// streamMap tracks a connection's open streams and enforces that peer
// (client-initiated) stream IDs strictly increase, per RFC 7540 §5.1.1.
type streamMap struct {
	mu sync.RWMutex

	streams map[uint32]*Stream

	maxPeerStreamID  uint32
	ignoreNewStreams bool

	streamsEmptyChan chan struct{}
	closeOnce        sync.Once
}

func newStreamMap() *streamMap {
	return &streamMap{
		streams:          make(map[uint32]*Stream),
		streamsEmptyChan: make(chan struct{}),
	}
}

func (m *streamMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

func (m *streamMap) Get(id uint32) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// AcceptPeerStream registers a new client-initiated stream. It rejects a
// stream ID that does not strictly increase, per RFC 7540 §5.1.1 ("a
// lower-valued stream identifier is received ... MUST respond with a
// connection error").
func (m *streamMap) AcceptPeerStream(s *Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ignoreNewStreams {
		return streamError(s.id, errCodeRefusedStream, "connection is shutting down")
	}
	if s.id <= m.maxPeerStreamID {
		return connError(errCodeProtocol, "peer stream id did not increase")
	}
	m.maxPeerStreamID = s.id
	m.streams[s.id] = s
	ActiveStreams.Inc()
	return nil
}

// AddLocalStream registers a server-initiated stream (a PUSH_PROMISE
// target).
func (m *streamMap) AddLocalStream(s *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[s.id] = s
	ActiveStreams.Inc()
}

// Delete removes a stream once it is fully closed and drained.
func (m *streamMap) Delete(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[id]; !ok {
		return
	}
	delete(m.streams, id)
	ActiveStreams.Dec()
	if len(m.streams) == 0 {
		m.closeOnce.Do(func() { close(m.streamsEmptyChan) })
	}
}

// Shutdown stops accepting new peer streams; EmptyChan fires once every
// currently open stream has been deleted.
func (m *streamMap) Shutdown() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreNewStreams = true
	if len(m.streams) == 0 {
		m.closeOnce.Do(func() { close(m.streamsEmptyChan) })
	}
	return m.streamsEmptyChan
}

// All returns a snapshot of every currently open stream, for GOAWAY
// draining and abort.
func (m *streamMap) All() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

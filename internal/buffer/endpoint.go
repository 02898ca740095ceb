package buffer

import "sync"

// Endpoint holds the pair of byte buffers backing one TCP (or TLS-wrapped
// TCP) connection: a net-in buffer the owning loop appends into on every
// readable event before handing bytes to a codec's process_inbound, and a
// net-out buffer that Send appends to from any goroutine.
//
// Invariant: outBuf is mutated only while mu is held. The owning loop reads
// and drains outBuf under the same lock when the connection becomes
// writable; no other field of Endpoint requires locking, since in-buffer
// and protocol state are only ever touched from the owning loop's
// goroutine.
type Endpoint struct {
	mu        sync.Mutex
	outBuf    []byte
	outClosed bool

	inBuf []byte

	// writeReady is signaled (non-blocking) whenever outBuf transitions
	// from empty to non-empty, so the owning loop knows to turn on write
	// interest. A buffered channel of size 1 is sufficient: multiple
	// Send calls before the loop notices collapse into one wakeup.
	writeReady chan struct{}
}

func NewEndpoint() *Endpoint {
	return &Endpoint{
		writeReady: make(chan struct{}, 1),
	}
}

// Send appends p to the net-out buffer and requests write interest. Safe to
// call from any goroutine, as is RequestClose.
func (e *Endpoint) Send(p []byte) {
	if len(p) == 0 {
		return
	}
	e.mu.Lock()
	wasEmpty := len(e.outBuf) == 0
	e.outBuf = append(e.outBuf, p...)
	e.mu.Unlock()
	if wasEmpty {
		select {
		case e.writeReady <- struct{}{}:
		default:
		}
	}
}

// WriteReady is the channel the owning loop selects on to learn that the
// net-out buffer became non-empty.
func (e *Endpoint) WriteReady() <-chan struct{} {
	return e.writeReady
}

// RequestClose marks the endpoint for transport close once the net-out
// buffer has fully drained. Safe to call from any goroutine (reactor.Conn's
// Close calls it from the protocol engine's goroutine); the owning loop is
// the only reader of outClosed.
func (e *Endpoint) RequestClose() {
	e.mu.Lock()
	e.outClosed = true
	e.mu.Unlock()
}

// DrainOut must be called only by the owning loop. It returns the pending
// net-out bytes and whether a close was requested, clearing the buffer.
// The caller writes the returned slice to the transport; on a short write
// it should re-append the unwritten remainder via Requeue before the next
// writable event.
func (e *Endpoint) DrainOut() (pending []byte, closeRequested bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending = e.outBuf
	e.outBuf = nil
	return pending, e.outClosed
}

// Requeue restores bytes that a short transport write did not consume, at
// the front of the net-out buffer. Owning-loop only.
func (e *Endpoint) Requeue(unwritten []byte) {
	if len(unwritten) == 0 {
		return
	}
	e.mu.Lock()
	e.outBuf = append(unwritten, e.outBuf...)
	e.mu.Unlock()
}

// AppendIn appends bytes read from the transport to the net-in buffer.
// Owning-loop only; process_inbound (the protocol codec) consumes from
// this slice and calls ConsumeIn to advance past what it parsed.
func (e *Endpoint) AppendIn(p []byte) {
	e.inBuf = append(e.inBuf, p...)
}

// In returns the unconsumed net-in bytes. Owning-loop only.
func (e *Endpoint) In() []byte {
	return e.inBuf
}

// ConsumeIn drops the first n bytes of the net-in buffer, retaining any
// partial frame/message tail for the next read.
func (e *Endpoint) ConsumeIn(n int) {
	if n <= 0 {
		return
	}
	if n >= len(e.inBuf) {
		e.inBuf = e.inBuf[:0]
		return
	}
	remaining := len(e.inBuf) - n
	copy(e.inBuf, e.inBuf[n:])
	e.inBuf = e.inBuf[:remaining]
}

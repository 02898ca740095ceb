package http2

import (
	"io"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// invokeHandler runs the application handler for a fully-headers-received
// stream on its own goroutine, so a slow handler on one stream never
// blocks the connection's single read-dispatch loop (spec §5 ordering
// guarantees: per-stream events are monotonic, but streams on one
// connection may interleave).
func (c *Connection) invokeHandler(s *Stream) {
	defer func() {
		if r := recover(); r != nil && c.log != nil {
			c.log.Error().Interface("panic", r).Uint32("stream", s.id).Msg("recovered from handler panic")
		}
	}()
	req := s.Request(httpcontract.ProtocolHTTP2)
	req.Body = &streamBodyReader{stream: s}
	rw := &responseWriter{conn: c, stream: s, header: headers.New(), status: 200}
	c.handler(rw, req)
	rw.finish()
}

// streamBodyReader adapts a Stream's reassembled DATA payloads into the
// httpcontract.BodyReader chunk-sequence contract. handleData pushes each
// received payload onto the stream's pendingIn queue and signals readyC;
// Next blocks on that signal until a chunk is available or the peer has
// sent END_STREAM.
type streamBodyReader struct {
	stream *Stream
	done   bool
}

func (b *streamBodyReader) Next() ([]byte, error) {
	b.stream.mu.Lock()
	for len(b.stream.pendingIn) == 0 && !b.stream.endStreamSeen {
		b.stream.mu.Unlock()
		<-b.stream.dataReady()
		b.stream.mu.Lock()
	}
	if len(b.stream.pendingIn) == 0 {
		b.stream.mu.Unlock()
		return nil, io.EOF
	}
	chunk := b.stream.pendingIn[0]
	b.stream.pendingIn = b.stream.pendingIn[1:]
	b.stream.mu.Unlock()
	return chunk, nil
}

// responseWriter implements httpcontract.ResponseWriter for an HTTP/2
// stream: SetHeader/SetStatus buffer into a headers.List, StartBody
// HPACK-encodes the whole header block into one HEADERS frame (no
// CONTINUATION frames are sent), WriteBody emits DATA frames respecting both window
// levels, queuing the remainder when a window is exhausted per spec
// §4.D's backpressure rule.
type responseWriter struct {
	conn   *Connection
	stream *Stream
	header *headers.List
	status int

	started  bool
	ended    bool
	canceled bool
}

func (w *responseWriter) SetHeader(name, value string) { w.header.Add(name, value) }
func (w *responseWriter) SetStatus(code int)            { w.status = code }

func (w *responseWriter) StartBody() error {
	if w.started {
		return nil
	}
	w.started = true

	fields := []headers.Field{headers.StatusPseudo(w.status)}
	for _, f := range headers.StripIllegal(w.header.Fields()) {
		fields = append(fields, f)
	}

	w.conn.writeMu.Lock()
	defer w.conn.writeMu.Unlock()
	w.conn.encBuf.Reset()
	for _, f := range fields {
		w.conn.hpackEncoder.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value})
	}
	return w.conn.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      w.stream.id,
		BlockFragment: w.conn.encBuf.b,
		EndHeaders:    true,
	})
}

func (w *responseWriter) WriteBody(chunk []byte) error {
	if !w.started {
		if err := w.StartBody(); err != nil {
			return err
		}
	}
	if len(chunk) == 0 {
		return nil
	}
	w.stream.queueData(chunk)
	return w.flush(false)
}

func (w *responseWriter) EndBody() error {
	if !w.started {
		if err := w.StartBody(); err != nil {
			return err
		}
	}
	w.ended = true
	return w.flush(true)
}

// flush writes as much queued DATA as the stream's and connection's send
// windows currently allow; any remainder stays queued until a
// WINDOW_UPDATE arrives (see Connection.handleWindowUpdate, which does
// not itself resume writers — the next WriteBody/EndBody call, or a
// background resumer in a fuller implementation, drains it).
func (w *responseWriter) flush(finalEmpty bool) error {
	for {
		avail := w.stream.availableSendWindow()
		if avail > w.conn.connSendWindow {
			avail = w.conn.connSendWindow
		}
		if avail <= 0 {
			if finalEmpty && !w.stream.hasPendingData() {
				return w.sendEndStream()
			}
			return nil
		}
		data := w.stream.dequeueUpTo(avail)
		if len(data) == 0 {
			if finalEmpty {
				return w.sendEndStream()
			}
			return nil
		}
		w.stream.consumeSendWindow(int64(len(data)))
		w.conn.connSendWindow -= int64(len(data))

		endStream := finalEmpty && !w.stream.hasPendingData()
		w.conn.writeMu.Lock()
		err := w.conn.framer.WriteData(w.stream.id, endStream, data)
		w.conn.writeMu.Unlock()
		if err != nil {
			return err
		}
		if endStream {
			return w.stream.transition(StateHalfClosedLocal)
		}
	}
}

func (w *responseWriter) sendEndStream() error {
	w.conn.writeMu.Lock()
	err := w.conn.framer.WriteData(w.stream.id, true, nil)
	w.conn.writeMu.Unlock()
	if err != nil {
		return err
	}
	return w.stream.transition(StateHalfClosedLocal)
}

func (w *responseWriter) Complete() error {
	if !w.ended {
		return w.EndBody()
	}
	return nil
}

func (w *responseWriter) Cancel(cause error) error {
	w.canceled = true
	w.conn.resetStream(w.stream.id, http2.ErrCodeCancel)
	return nil
}

func (w *responseWriter) PushPromise(line headers.RequestLine, header *headers.List) (httpcontract.ResponseWriter, error) {
	return nil, httpcontract.ErrUnsupported
}

func (w *responseWriter) Upgrade() (httpcontract.Upgraded, error) {
	return nil, httpcontract.ErrUnsupported
}

func (w *responseWriter) Deadline() (time.Time, bool) { return time.Time{}, false }

func (w *responseWriter) finish() error {
	if w.canceled {
		return nil
	}
	return w.Complete()
}

package http3

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/quic-go/qpack"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// invokeHandler runs the application handler for one request stream on its
// own goroutine, mirroring internal/http2.Connection.invokeHandler so a
// slow handler on one stream never blocks the accept loop handling other
// streams on the same connection.
func (c *Connection) invokeHandler(s *requestStream) {
	req := s.Request(httpcontract.ProtocolHTTP3)
	req.Body = &requestBodyReader{stream: s}
	rw := &responseWriter{stream: s, header: headers.New(), status: 200}
	c.handler(rw, req)
	rw.finish()
}

// requestBodyReader adapts a requestStream's reassembled DATA payloads into
// the httpcontract.BodyReader contract, the same wait-on-signal shape as
// internal/http2's streamBodyReader.
type requestBodyReader struct {
	stream *requestStream
}

func (b *requestBodyReader) Next() ([]byte, error) {
	s := b.stream
	s.mu.Lock()
	for len(s.pendingIn) == 0 && !s.endStreamSeen {
		s.mu.Unlock()
		<-s.dataReady()
		s.mu.Lock()
	}
	if len(s.pendingIn) == 0 {
		s.mu.Unlock()
		return nil, io.EOF
	}
	chunk := s.pendingIn[0]
	s.pendingIn = s.pendingIn[1:]
	s.mu.Unlock()
	return chunk, nil
}

// responseWriter implements httpcontract.ResponseWriter over an HTTP/3
// request stream: SetHeader/SetStatus buffer into a headers.List, StartBody
// QPACK-encodes a HEADERS frame, WriteBody queues DATA chunks onto the
// stream's writer goroutine (see requestStream.queueBody) so a handler
// producing body faster than QUIC can currently send never stalls the
// connection's single accept loop.
type responseWriter struct {
	stream *requestStream
	header *headers.List
	status int

	started  bool
	ended    bool
	canceled bool
}

func (w *responseWriter) SetHeader(name, value string) { w.header.Add(name, value) }
func (w *responseWriter) SetStatus(code int)           { w.status = code }

func (w *responseWriter) StartBody() error {
	if w.started {
		return nil
	}
	w.started = true

	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	if err := enc.WriteField(qpack.HeaderField{Name: ":status", Value: strconv.Itoa(w.status)}); err != nil {
		return err
	}
	for _, f := range headers.StripIllegal(w.header.Fields()) {
		if err := enc.WriteField(qpack.HeaderField{Name: f.Name, Value: f.Value}); err != nil {
			return err
		}
	}
	if err := enc.Close(); err != nil {
		return err
	}

	hdr := writeFrameHeader(make([]byte, 0, 16), frameTypeHeaders, uint64(buf.Len()))
	if _, err := w.stream.qs.Write(hdr); err != nil {
		return err
	}
	_, err := w.stream.qs.Write(buf.Bytes())
	return err
}

func (w *responseWriter) WriteBody(chunk []byte) error {
	if !w.started {
		if err := w.StartBody(); err != nil {
			return err
		}
	}
	w.stream.queueBody(chunk)
	return nil
}

func (w *responseWriter) EndBody() error {
	if !w.started {
		if err := w.StartBody(); err != nil {
			return err
		}
	}
	w.ended = true
	w.stream.closeWrites()
	return nil
}

func (w *responseWriter) Complete() error {
	if !w.ended {
		return w.EndBody()
	}
	return nil
}

func (w *responseWriter) Cancel(cause error) error {
	w.canceled = true
	w.stream.qs.CancelWrite(streamErrCode(errCodeRequestCanceled))
	w.stream.qs.CancelRead(streamErrCode(errCodeRequestCanceled))
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

const errCodeRequestCanceled = 0x10C

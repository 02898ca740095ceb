package http1

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/flowmesh/polyserve/internal/headers"
	"github.com/flowmesh/polyserve/internal/httpcontract"
)

// responseWriter implements httpcontract.ResponseWriter for one HTTP/1.1
// exchange. Headers and status are buffered until StartBody, at which
// point the status line and header block are flushed; the choice between
// Content-Length and chunked framing is made there based on whether the
// handler set Content-Length itself.
type responseWriter struct {
	conn   *Conn
	status int
	header *headers.List

	started bool
	chunked *ChunkedWriter
	ended   bool
	canceled bool
	deadline time.Time
	hasDeadline bool
}

func newResponseWriter(c *Conn) *responseWriter {
	return &responseWriter{conn: c, status: 200, header: headers.New()}
}

func (w *responseWriter) SetHeader(name, value string) {
	w.header.Add(name, value)
}

func (w *responseWriter) SetStatus(code int) {
	w.status = code
}

func (w *responseWriter) StartBody() error {
	if w.started {
		return nil
	}
	w.started = true

	w.conn.writeMu.Lock()
	defer w.conn.writeMu.Unlock()

	bw := w.conn.bw
	io.WriteString(bw, "HTTP/1.1 "+strconv.Itoa(w.status)+" "+reasonPhrase(w.status)+"\r\n")

	_, hasCL := w.header.Get("Content-Length")
	useChunked := !hasCL && w.status != 204 && w.status != 304
	if useChunked {
		w.header.Add("Transfer-Encoding", "chunked")
	}
	for _, f := range w.header.Fields() {
		io.WriteString(bw, f.Name+": "+f.Value+"\r\n")
	}
	io.WriteString(bw, "\r\n")

	if useChunked {
		w.chunked = NewChunkedWriter(bw)
	}
	return bw.Flush()
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
	w.conn.writeMu.Lock()
	defer w.conn.writeMu.Unlock()
	var err error
	if w.chunked != nil {
		err = w.chunked.WriteChunk(chunk)
	} else {
		_, err = w.conn.bw.Write(chunk)
	}
	if err != nil {
		return err
	}
	return w.conn.bw.Flush()
}

func (w *responseWriter) EndBody() error {
	if !w.started {
		if err := w.StartBody(); err != nil {
			return err
		}
	}
	w.ended = true
	if w.chunked == nil {
		return nil
	}
	w.conn.writeMu.Lock()
	defer w.conn.writeMu.Unlock()
	if err := w.chunked.Close(); err != nil {
		return err
	}
	return w.conn.bw.Flush()
}

func (w *responseWriter) Complete() error {
	if !w.ended {
		return w.EndBody()
	}
	return nil
}

func (w *responseWriter) Cancel(cause error) error {
	w.canceled = true
	return w.conn.raw.Close()
}

func (w *responseWriter) PushPromise(headers.RequestLine, *headers.List) (httpcontract.ResponseWriter, error) {
	return nil, httpcontract.ErrUnsupported
}

func (w *responseWriter) Upgrade() (httpcontract.Upgraded, error) {
	return nil, httpcontract.ErrUnsupported
}

func (w *responseWriter) Deadline() (time.Time, bool) {
	return w.deadline, w.hasDeadline
}

// finish ensures a handler that never explicitly called Complete still
// produces a well-formed response.
func (w *responseWriter) finish() error {
	if w.canceled {
		return nil
	}
	return w.Complete()
}

// keepAlive decides whether the connection persists after this exchange,
// per RFC 7230 §6.3: HTTP/1.1 defaults to keep-alive unless either side
// sent Connection: close; HTTP/1.0 defaults to close unless
// Connection: keep-alive was requested and honored.
func (w *responseWriter) keepAlive(reqHeader *headers.List, version string) bool {
	if w.canceled {
		return false
	}
	if connectionTokenWants(w.header) || connectionTokenWants(reqHeader) {
		return false
	}
	if version == "HTTP/1.0" {
		conn, _ := reqHeader.Get("Connection")
		return strings.EqualFold(strings.TrimSpace(conn), "keep-alive")
	}
	return true
}

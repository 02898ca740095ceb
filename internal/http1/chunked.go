package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/flowmesh/polyserve/internal/headers"
)

// ChunkedReader parses a chunked-transfer body per RFC 7230 §4.1: a
// hex size-line (chunk extensions after ';' are ignored), CRLF, that many
// data bytes, CRLF, repeating until a zero-size chunk, after which a
// trailer section (parsed identically to headers) terminates the body.
type ChunkedReader struct {
	r        *bufio.Reader
	parser   *Parser
	trailer  *headers.List
	done     bool
	pending  int64 // bytes left in the current chunk, not yet consumed
}

func NewChunkedReader(r *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{r: r, parser: NewParser(r, 1<<20)}
}

// Next returns the next chunk of body bytes, or io.EOF once the trailer
// section has been consumed. Trailer() is valid only after Next returns
// io.EOF.
func (c *ChunkedReader) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}
	if c.pending == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return nil, err
		}
		if size == 0 {
			trailer, err := c.parser.ReadHeaders()
			if err != nil {
				return nil, err
			}
			c.trailer = trailer
			c.done = true
			return nil, io.EOF
		}
		c.pending = size
	}

	readLen := c.pending
	if readLen > 32*1024 {
		readLen = 32 * 1024
	}
	buf := make([]byte, readLen)
	n, err := io.ReadFull(c.r, buf)
	if err != nil {
		return nil, err
	}
	c.pending -= int64(n)
	if c.pending == 0 {
		// consume the trailing CRLF after chunk data
		if _, err := c.r.Discard(2); err != nil {
			return nil, err
		}
	}
	return buf[:n], nil
}

func (c *ChunkedReader) Trailer() *headers.List {
	return c.trailer
}

func (c *ChunkedReader) readChunkSize() (int64, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		return 0, &ParseError{Reason: "malformed chunk size"}
	}
	return size, nil
}

// ChunkedWriter encodes a response body as chunked transfer-coding.
type ChunkedWriter struct {
	w io.Writer
}

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

// WriteChunk writes one data chunk. A zero-length call is a no-op; use
// Close to emit the terminating zero-size chunk.
func (c *ChunkedWriter) WriteChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := io.WriteString(c.w, strconv.FormatInt(int64(len(p)), 16)+"\r\n"); err != nil {
		return err
	}
	if _, err := c.w.Write(p); err != nil {
		return err
	}
	_, err := io.WriteString(c.w, "\r\n")
	return err
}

// Close writes the terminating zero-size chunk and an empty trailer
// section.
func (c *ChunkedWriter) Close() error {
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	return err
}

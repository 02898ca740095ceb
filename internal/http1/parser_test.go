package http1

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/polyserve/internal/headers"
)

func TestReadRequestLine(t *testing.T) {
	p := NewParser(bufio.NewReader(strings.NewReader("GET /foo HTTP/1.1\r\n")), 0)
	line, err := p.ReadRequestLine()
	require.NoError(t, err)
	assert.Equal(t, "GET", line.Method)
	assert.Equal(t, "/foo", line.Target)
	assert.Equal(t, "HTTP/1.1", line.Version)
}

func TestReadRequestLineRejectsUnsupportedVersion(t *testing.T) {
	p := NewParser(bufio.NewReader(strings.NewReader("GET / HTTP/2.0\r\n")), 0)
	_, err := p.ReadRequestLine()
	assert.Error(t, err)
}

func TestReadHeadersPreservesDuplicatesAndOrder(t *testing.T) {
	raw := "Host: example.com\r\nX-A: 1\r\nX-A: 2\r\n\r\n"
	p := NewParser(bufio.NewReader(strings.NewReader(raw)), 0)
	h, err := p.ReadHeaders()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, h.Values("x-a"))
	v, ok := h.Get("host")
	require.True(t, ok)
	assert.Equal(t, "example.com", v)
}

func TestReadHeadersFoldsContinuationLines(t *testing.T) {
	raw := "X-Long: part-one\r\n part-two\r\n\r\n"
	p := NewParser(bufio.NewReader(strings.NewReader(raw)), 0)
	h, err := p.ReadHeaders()
	require.NoError(t, err)
	v, ok := h.Get("x-long")
	require.True(t, ok)
	assert.Equal(t, "part-one part-two", v)
}

func TestDetermineRequestBodyFramingChunked(t *testing.T) {
	h := headers.New()
	h.Add("Transfer-Encoding", "chunked")
	framing, _, err := DetermineRequestBodyFraming(h)
	require.NoError(t, err)
	assert.Equal(t, BodyChunked, framing)
}

func TestDetermineRequestBodyFramingContentLength(t *testing.T) {
	h := headers.New()
	h.Add("Content-Length", "42")
	framing, n, err := DetermineRequestBodyFraming(h)
	require.NoError(t, err)
	assert.Equal(t, BodyContentLength, framing)
	assert.Equal(t, int64(42), n)
}

func TestDetermineRequestBodyFramingRejectsBoth(t *testing.T) {
	h := headers.New()
	h.Add("Transfer-Encoding", "chunked")
	h.Add("Content-Length", "10")
	_, _, err := DetermineRequestBodyFraming(h)
	assert.Error(t, err)
}

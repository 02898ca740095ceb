// Package http1 implements the HTTP/1.1 line-oriented parser, chunked
// transfer codec, and the connection state machine that drives it:
// request-line -> headers -> body -> complete, plus Upgrade handling for
// h2c and WebSocket. No third-party HTTP/1.1 parser appears anywhere in
// the retrieved corpus (the teacher proxies HTTP/1.1 through net/http's
// own client/server types rather than hand-rolling one), so this parser
// uses bufio/textproto the same way net/http's internal parser does —
// the idiomatic choice when no ecosystem library fits.
package http1

import (
	"bufio"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/flowmesh/polyserve/internal/headers"
)

// RequestLine is the parsed first line of an HTTP/1.1 request.
type RequestLine struct {
	Method  string
	Target  string
	Version string
}

// ParseError distinguishes a malformed request (respond 400, keep trying
// to drain and close) from a transport-level read error (EOF, reset).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "malformed HTTP/1.1 request: " + e.Reason }

// Parser reads request-line, headers and body framing off a buffered
// connection reader. One Parser is reused across pipelined requests on
// the same connection.
type Parser struct {
	r *bufio.Reader
	// maxHeaderBytes bounds how much header data ReadHeaders consumes per
	// request before giving up, protecting against unbounded header
	// fields absent a body Content-Length.
	maxHeaderBytes int
}

func NewParser(r *bufio.Reader, maxHeaderBytes int) *Parser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = 1 << 20
	}
	return &Parser{r: r, maxHeaderBytes: maxHeaderBytes}
}

// ReadRequestLine parses "METHOD SP target SP HTTP/x.y CRLF".
func (p *Parser) ReadRequestLine() (RequestLine, error) {
	line, err := p.readLine()
	if err != nil {
		return RequestLine{}, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, &ParseError{Reason: "malformed request-line"}
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return RequestLine{}, &ParseError{Reason: "unsupported HTTP version " + parts[2]}
	}
	return RequestLine{Method: parts[0], Target: parts[1], Version: parts[2]}, nil
}

// ReadHeaders parses header fields until the terminating blank line,
// preserving duplicates and order. Leading-whitespace continuation lines
// (obsolete line folding, RFC 7230 §3.2.4) are appended to the previous
// field's value with a single space separator, matching the permissive
// behavior spec.md requires.
func (p *Parser) ReadHeaders() (*headers.List, error) {
	tp := textproto.NewReader(p.r)
	list := headers.New()
	budget := p.maxHeaderBytes
	var lastName string

	for {
		rawLine, err := tp.ReadLineBytes()
		if err != nil {
			return nil, err
		}
		budget -= len(rawLine)
		if budget < 0 {
			return nil, &ParseError{Reason: "header section exceeds limit"}
		}
		if len(rawLine) == 0 {
			return list, nil
		}
		if rawLine[0] == ' ' || rawLine[0] == '\t' {
			if lastName == "" {
				return nil, &ParseError{Reason: "continuation line with no preceding header"}
			}
			continuation := strings.TrimSpace(string(rawLine))
			p.appendFold(list, lastName, continuation)
			continue
		}
		name, value, ok := splitHeaderLine(string(rawLine))
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("malformed header line %q", rawLine)}
		}
		list.Add(name, value)
		lastName = name
	}
}

// appendFold merges a continuation line into the most recently added
// field with name, per RFC 7230 obs-fold handling.
func (p *Parser) appendFold(list *headers.List, name, continuation string) {
	fields := list.Fields()
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.EqualFold(fields[i].Name, name) {
			fields[i].Value = fields[i].Value + " " + continuation
			return
		}
	}
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if name == "" {
		return "", "", false
	}
	return name, value, true
}

func (p *Parser) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// BodyFraming decides how a request/response body is delimited, per
// RFC 7230 §3.3.3.
type BodyFraming int

const (
	BodyNone BodyFraming = iota
	BodyContentLength
	BodyChunked
	// BodyUntilClose is only valid for responses without a
	// Content-Length or chunked encoding; the body ends when the
	// connection closes.
	BodyUntilClose
)

// DetermineRequestBodyFraming applies RFC 7230 §3.3.3 to a request's
// headers. A request with both Transfer-Encoding and Content-Length must
// be rejected (request smuggling vector); chunked takes precedence when
// only Transfer-Encoding is present.
func DetermineRequestBodyFraming(h *headers.List) (BodyFraming, int64, error) {
	te, hasTE := h.Get("Transfer-Encoding")
	cl, hasCL := h.Get("Content-Length")

	if hasTE && hasCL {
		return 0, 0, &ParseError{Reason: "both Transfer-Encoding and Content-Length present"}
	}
	if hasTE {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return 0, 0, &ParseError{Reason: "unsupported Transfer-Encoding " + te}
		}
		return BodyChunked, 0, nil
	}
	if hasCL {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return 0, 0, &ParseError{Reason: "malformed Content-Length"}
		}
		if n == 0 {
			return BodyNone, 0, nil
		}
		return BodyContentLength, n, nil
	}
	return BodyNone, 0, nil
}

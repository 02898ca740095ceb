// Package httpcontract defines the protocol-agnostic request/response
// contract that the HTTP/1.1, HTTP/2 and HTTP/3 engines all satisfy
// identically, so application handlers never branch on protocol version.
package httpcontract

import (
	"context"
	"time"

	"github.com/flowmesh/polyserve/internal/headers"
)

// Request is the request-side view handed to an application handler.
// Header and RequestLine are populated before the handler is invoked; Body
// is read as a sequence of chunks terminated by io.EOF, mirroring the
// "sequence of byte slices terminated by an end-of-body event" in spec.
type Request struct {
	Line    headers.RequestLine
	Header  *headers.List
	Body    BodyReader
	Context context.Context

	// Protocol identifies which engine produced this request, useful for
	// diagnostics only — handlers must not branch on it.
	Protocol Protocol
}

// Protocol names the HTTP engine that produced a Request/ResponseWriter
// pair.
type Protocol int

const (
	ProtocolHTTP1 Protocol = iota
	ProtocolHTTP2
	ProtocolHTTP3
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP1:
		return "http/1.1"
	case ProtocolHTTP2:
		return "h2"
	case ProtocolHTTP3:
		return "h3"
	default:
		return "unknown"
	}
}

// BodyReader exposes the request body as a chunk sequence. Next returns
// io.EOF once the end-of-body event has been delivered, after which
// further calls must continue to return io.EOF.
type BodyReader interface {
	Next() ([]byte, error)
}

// ResponseWriter is the response-side contract: set headers including
// status, start the body, write chunks, end the body, complete. Methods
// must be called in this order; calling StartBody before SetStatus uses
// a default of 200, matching net/http's WriteHeader semantics.
type ResponseWriter interface {
	// SetHeader adds a response header field. Must be called before
	// StartBody.
	SetHeader(name, value string)

	// SetStatus sets the response status code. Must be called before
	// StartBody; defaults to 200 if never called.
	SetStatus(code int)

	// StartBody commits headers and status to the wire/frame and opens
	// the body for writing.
	StartBody() error

	// WriteBody writes one body chunk. May be called zero or more times
	// between StartBody and EndBody.
	WriteBody(chunk []byte) error

	// EndBody signals no further body chunks follow.
	EndBody() error

	// Complete finalizes the exchange (stream closed, connection kept
	// alive or closed per protocol rules). Idempotent.
	Complete() error

	// Cancel aborts the exchange with a best-effort RST/close. Idempotent
	// and safe to call instead of Complete at any point.
	Cancel(cause error) error

	// PushPromise attempts a server push of the given request line and
	// headers; returns ErrUnsupported if the underlying protocol or
	// connection does not support push. None of this module's engines
	// sends a push: the HTTP/1.1, HTTP/2 and HTTP/3 writers all return
	// ErrUnsupported.
	PushPromise(line headers.RequestLine, header *headers.List) (ResponseWriter, error)

	// Upgrade attempts a WebSocket upgrade of this exchange; returns
	// ErrUnsupported if the protocol does not support it. All of this
	// module's writers return ErrUnsupported here; HTTP/1.1 performs
	// WebSocket and h2c upgrades in the connection itself, before the
	// handler runs (see http1.Options).
	Upgrade() (Upgraded, error)

	// Deadline returns the exchange's deadline, if any was set.
	Deadline() (time.Time, bool)
}

// Upgraded is the value a successful ResponseWriter.Upgrade returns. No
// writer in this module returns one (see Upgrade); internal/websocket.Conn
// implements it, and the HTTP/1.1 binding hands such a Conn to
// HTTPBinding.OnWebSocket after writing the 101 response.
type Upgraded interface {
	// Framer returns the raw frame reader/writer for the now-upgraded
	// connection. Concrete type is internal/websocket.Conn; declared here
	// as interface{} to avoid an import cycle between httpcontract and
	// websocket (websocket does not depend on httpcontract).
	Framer() interface{}
}

// Handler processes one Request and produces a response via w. It must not
// retain fields of req.Header or req.Line beyond the call — header
// containers are moved, not aliased, into the handler per spec §3's
// ownership rule.
type Handler func(w ResponseWriter, req *Request)

// ErrUnsupported is returned by PushPromise/Upgrade when the underlying
// protocol cannot perform the requested conditional operation.
var ErrUnsupported = unsupportedError{}

type unsupportedError struct{}

func (unsupportedError) Error() string { return "operation not supported by this protocol" }

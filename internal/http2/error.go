package http2

import (
	"fmt"

	"golang.org/x/net/http2"
)

// ConnError is a connection-level error: the whole connection is torn
// down after sending GOAWAY with code. Mirrors h2mux's MuxerProtocolError
// taxonomy, generalized from a tunnel-muxer error set to the full RFC
// 7540 §7 error code list this engine actually emits.
type ConnError struct {
	Code   http2.ErrCode
	Reason string
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection error (%s): %s", e.Code, e.Reason)
}

// StreamError is a stream-level error: only the offending stream is reset
// with RST_STREAM(code); the connection continues.
type StreamError struct {
	StreamID uint32
	Code     http2.ErrCode
	Reason   string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %d error (%s): %s", e.StreamID, e.Code, e.Reason)
}

func connError(code http2.ErrCode, reason string) *ConnError {
	return &ConnError{Code: code, Reason: reason}
}

func streamError(id uint32, code http2.ErrCode, reason string) *StreamError {
	return &StreamError{StreamID: id, Code: code, Reason: reason}
}

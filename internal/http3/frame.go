// Package http3 bridges QUIC bidirectional streams into the
// protocol-agnostic request/response contract in internal/httpcontract,
// mirroring the stream lifecycle internal/http2 implements for TCP. It is
// grounded on the real github.com/quic-go/quic-go/http3 package's
// frame/control-stream shape (retrieved in the example corpus as a vendored
// copy) rather than reusing that package's net/http-based server directly,
// since this repo's handlers are written once against httpcontract and must
// run unchanged across all three HTTP engines.
package http3

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go/quicvarint"
)

// Frame types defined by RFC 9114 §7.2. This engine does not originate
// server push. PUSH_PROMISE, CANCEL_PUSH and MAX_PUSH_ID are named here but
// not acted on: a request stream skips them like any other unexpected
// frame, and the peer's control stream is discarded after its SETTINGS.
const (
	frameTypeData        = 0x0
	frameTypeHeaders     = 0x1
	frameTypeCancelPush  = 0x3
	frameTypeSettings    = 0x4
	frameTypePushPromise = 0x5
	frameTypeGoAway      = 0x7
	frameTypeMaxPushID   = 0xD
)

// Settings identifiers this engine understands; unknown identifiers are
// ignored per RFC 9114 §7.2.4.1 ("endpoints MUST NOT consider such settings
// to be an error").
const (
	settingQPACKMaxTableCapacity = 0x1
	settingMaxFieldSectionSize   = 0x6
	settingQPACKBlockedStreams   = 0x7
)

// readFrameHeader reads a frame's type and length varints from r.
func readFrameHeader(r io.ByteReader) (frameType uint64, length uint64, err error) {
	frameType, err = quicvarint.Read(r)
	if err != nil {
		return 0, 0, err
	}
	length, err = quicvarint.Read(r)
	if err != nil {
		return 0, 0, err
	}
	return frameType, length, nil
}

// writeFrameHeader appends a frame's type+length prefix to b.
func writeFrameHeader(b []byte, frameType, length uint64) []byte {
	b = quicvarint.Append(b, frameType)
	b = quicvarint.Append(b, length)
	return b
}

// readFramePayload reads exactly length bytes of frame payload from r.
func readFramePayload(r io.Reader, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}
	return buf, nil
}

// settingsFrame is the decoded form of a SETTINGS frame (RFC 9114 §7.2.4).
type settingsFrame struct {
	maxFieldSectionSize uint64
	other               map[uint64]uint64
}

func parseSettingsFrame(payload []byte) (*settingsFrame, error) {
	r := bufio.NewReader(bytes.NewReader(payload))
	sf := &settingsFrame{other: make(map[uint64]uint64)}
	for {
		id, err := quicvarint.Read(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		val, err := quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
		switch id {
		case settingMaxFieldSectionSize:
			sf.maxFieldSectionSize = val
		default:
			sf.other[id] = val
		}
	}
	return sf, nil
}

func (sf *settingsFrame) appendTo(b []byte) []byte {
	if sf.maxFieldSectionSize > 0 {
		b = quicvarint.Append(b, settingMaxFieldSectionSize)
		b = quicvarint.Append(b, sf.maxFieldSectionSize)
	}
	return b
}

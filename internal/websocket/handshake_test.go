package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	// example Sec-WebSocket-Key/-Accept pair from RFC 6455 §1.3.
	testSecWebSocketKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	testSecWebSocketAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

func TestAcceptKeyMatchesRFCExample(t *testing.T) {
	assert.Equal(t, testSecWebSocketAccept, AcceptKey(testSecWebSocketKey))
}

func TestAcceptKeyDiffersForDifferentKeys(t *testing.T) {
	assert.NotEqual(t, AcceptKey("aaaaaaaaaaaaaaaaaaaaaa=="), AcceptKey(testSecWebSocketKey))
}

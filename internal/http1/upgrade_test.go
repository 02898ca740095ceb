package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowmesh/polyserve/internal/headers"
)

func TestDetectUpgradeWebSocket(t *testing.T) {
	h := headers.New()
	h.Add("Connection", "Upgrade")
	h.Add("Upgrade", "websocket")
	assert.Equal(t, UpgradeWebSocket, DetectUpgrade(h))
}

func TestDetectUpgradeH2C(t *testing.T) {
	h := headers.New()
	h.Add("Connection", "keep-alive, Upgrade")
	h.Add("Upgrade", "h2c")
	assert.Equal(t, UpgradeH2C, DetectUpgrade(h))
}

func TestDetectUpgradeNoneWithoutConnectionToken(t *testing.T) {
	h := headers.New()
	h.Add("Upgrade", "websocket")
	assert.Equal(t, UpgradeNone, DetectUpgrade(h))
}

func TestDetectUpgradeUnknownValue(t *testing.T) {
	h := headers.New()
	h.Add("Connection", "upgrade")
	h.Add("Upgrade", "carrier-pigeon")
	assert.Equal(t, UpgradeNone, DetectUpgrade(h))
}

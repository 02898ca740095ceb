package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnErrorMessage(t *testing.T) {
	err := connError(errCodeProtocol, "bad preface")
	assert.Contains(t, err.Error(), "connection error")
	assert.Contains(t, err.Error(), "bad preface")
}

func TestStreamErrorMessage(t *testing.T) {
	err := streamError(7, errCodeCancel, "client reset")
	assert.Equal(t, uint32(7), err.StreamID)
	assert.Contains(t, err.Error(), "stream 7")
	assert.Contains(t, err.Error(), "client reset")
}

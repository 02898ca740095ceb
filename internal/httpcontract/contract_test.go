package httpcontract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolString(t *testing.T) {
	assert.Equal(t, "http/1.1", ProtocolHTTP1.String())
	assert.Equal(t, "h2", ProtocolHTTP2.String())
	assert.Equal(t, "h3", ProtocolHTTP3.String())
	assert.Equal(t, "unknown", Protocol(99).String())
}

func TestErrUnsupportedMessage(t *testing.T) {
	assert.Equal(t, "operation not supported by this protocol", ErrUnsupported.Error())
}

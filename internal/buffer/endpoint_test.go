package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointSendSignalsWriteReady(t *testing.T) {
	e := NewEndpoint()
	e.Send([]byte("hello"))

	select {
	case <-e.WriteReady():
	default:
		t.Fatal("WriteReady was not signaled after Send on empty buffer")
	}

	pending, closeRequested := e.DrainOut()
	assert.Equal(t, []byte("hello"), pending)
	assert.False(t, closeRequested)
}

func TestEndpointSendAppendsWithoutDoubleSignal(t *testing.T) {
	e := NewEndpoint()
	e.Send([]byte("a"))
	<-e.WriteReady()
	e.Send([]byte("b"))

	select {
	case <-e.WriteReady():
		t.Fatal("should not re-signal while buffer was already non-empty")
	default:
	}

	pending, _ := e.DrainOut()
	assert.Equal(t, []byte("ab"), pending)
}

func TestEndpointRequeuePrependsUnwritten(t *testing.T) {
	e := NewEndpoint()
	e.Send([]byte("world"))
	pending, _ := e.DrainOut()
	assert.Equal(t, []byte("world"), pending)

	e.Requeue(pending[2:]) // simulate a short write that sent "wo"
	e.Send([]byte("!"))
	remaining, _ := e.DrainOut()
	assert.Equal(t, []byte("rld!"), remaining)
}

func TestEndpointConsumeIn(t *testing.T) {
	e := NewEndpoint()
	e.AppendIn([]byte("GET / HTTP/1.1\r\n"))
	e.ConsumeIn(4)
	assert.Equal(t, []byte("/ HTTP/1.1\r\n"), e.In())
}

func TestEndpointRequestClose(t *testing.T) {
	e := NewEndpoint()
	e.RequestClose()
	_, closeRequested := e.DrainOut()
	assert.True(t, closeRequested)
}

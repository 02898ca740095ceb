package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamLegalTransitions(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, defaultInitialWindow)
	require.NoError(t, s.transition(StateOpen))
	require.NoError(t, s.transition(StateHalfClosedRemote))
	require.NoError(t, s.transition(StateClosed))
}

func TestStreamIllegalTransitionIsStreamError(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, defaultInitialWindow)
	err := s.transition(StateHalfClosedRemote)
	require.Error(t, err)
	streamErr, ok := err.(*StreamError)
	require.True(t, ok)
	assert.Equal(t, uint32(1), streamErr.StreamID)
	assert.Equal(t, errCodeProtocol, streamErr.Code)
}

func TestStreamClosedAcceptsNoFurtherTransition(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, defaultInitialWindow)
	require.NoError(t, s.transition(StateOpen))
	require.NoError(t, s.transition(StateClosed))
	assert.Error(t, s.transition(StateOpen))
}

func TestStreamSendWindowConsumeAndUpdate(t *testing.T) {
	s := newStream(1, nil, 100, defaultInitialWindow)
	assert.EqualValues(t, 100, s.availableSendWindow())
	s.consumeSendWindow(40)
	assert.EqualValues(t, 60, s.availableSendWindow())
	require.NoError(t, s.applyWindowUpdate(10))
	assert.EqualValues(t, 70, s.availableSendWindow())
}

func TestStreamSendWindowOverflowIsConnError(t *testing.T) {
	s := newStream(1, nil, maxWindowSize-1, defaultInitialWindow)
	err := s.applyWindowUpdate(10)
	require.Error(t, err)
	_, ok := err.(*ConnError)
	assert.True(t, ok)
}

func TestStreamConsumeReceiveWindowIssuesUpdateAtHalf(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, 100)
	assert.EqualValues(t, 0, s.consumeReceiveWindow(40))
	assert.EqualValues(t, 60, s.consumeReceiveWindow(20))
}

func TestStreamAdjustInitialWindowRetroactive(t *testing.T) {
	s := newStream(1, nil, 100, defaultInitialWindow)
	s.adjustInitialWindow(-50)
	assert.EqualValues(t, 50, s.availableSendWindow())
}

func TestStreamQueueAndDequeueData(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, defaultInitialWindow)
	s.queueData([]byte("hello"))
	s.queueData([]byte("world"))
	assert.True(t, s.hasPendingData())

	first := s.dequeueUpTo(3)
	assert.Equal(t, []byte("hel"), first)
	assert.True(t, s.hasPendingData())

	rest := s.dequeueUpTo(100)
	assert.Equal(t, []byte("loworld"), rest)
	assert.False(t, s.hasPendingData())
}

func TestStreamPushInboundWakesDataReady(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, defaultInitialWindow)
	s.pushInbound([]byte("chunk"))

	select {
	case <-s.dataReady():
	default:
		t.Fatal("expected dataReady to be signaled after pushInbound")
	}

	s.mu.Lock()
	assert.Len(t, s.pendingIn, 1)
	assert.Equal(t, []byte("chunk"), s.pendingIn[0])
	s.mu.Unlock()
}

func TestStreamPushInboundNilSignalsWithoutQueuing(t *testing.T) {
	s := newStream(1, nil, defaultInitialWindow, defaultInitialWindow)
	s.pushInbound(nil)

	select {
	case <-s.dataReady():
	default:
		t.Fatal("expected dataReady to be signaled for end-of-stream")
	}
	s.mu.Lock()
	assert.Empty(t, s.pendingIn)
	s.mu.Unlock()
}

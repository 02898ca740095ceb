package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleTimerFiresAfterDuration(t *testing.T) {
	it := NewIdleTimer(10*time.Millisecond, 3)
	defer it.Stop()

	select {
	case <-it.C:
	case <-time.After(time.Second):
		t.Fatal("idle timer never fired")
	}
}

func TestIdleTimerRetryExhaustion(t *testing.T) {
	it := NewIdleTimer(time.Hour, 2)
	defer it.Stop()

	assert.True(t, it.Retry())
	assert.True(t, it.Retry())
	assert.False(t, it.Retry(), "third retry should exceed maxRetries")
	assert.Equal(t, uint64(2), it.RetryCount())
}

func TestIdleTimerMarkActiveResetsRetries(t *testing.T) {
	it := NewIdleTimer(time.Hour, 1)
	defer it.Stop()

	assert.True(t, it.Retry())
	assert.False(t, it.Retry())

	it.MarkActive()
	assert.Equal(t, uint64(0), it.RetryCount())
	assert.True(t, it.Retry())
}

package reactor

import (
	"math/rand"
	"sync"
	"time"
)

// IdleTimer manages heartbeats on an otherwise-idle connection. The timer
// ticks on an interval with added jitter so two endpoints heartbeating
// each other don't accidentally synchronize. It tracks the number of
// retries (unacknowledged heartbeats) since the connection was last marked
// active.
//
// The methods of IdleTimer must not be called while a goroutine is reading
// from C.
type IdleTimer struct {
	C <-chan time.Time

	idleTimer    *time.Timer
	idleDuration time.Duration
	randomSource *rand.Rand
	maxRetries   uint64

	stateLock sync.RWMutex
	retries   uint64
}

func NewIdleTimer(idleDuration time.Duration, maxRetries uint64) *IdleTimer {
	t := &IdleTimer{
		idleTimer:    time.NewTimer(idleDuration),
		idleDuration: idleDuration,
		randomSource: rand.New(rand.NewSource(time.Now().UnixNano())),
		maxRetries:   maxRetries,
	}
	t.C = t.idleTimer.C
	return t
}

// Retry should be called when retrying the idle timeout; returns false once
// the maximum number of retries has been reached.
func (t *IdleTimer) Retry() bool {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	if t.retries >= t.maxRetries {
		return false
	}
	t.retries++
	return true
}

func (t *IdleTimer) RetryCount() uint64 {
	t.stateLock.RLock()
	defer t.stateLock.RUnlock()
	return t.retries
}

// MarkActive resets the idle timer and clears outstanding retries.
func (t *IdleTimer) MarkActive() {
	if !t.idleTimer.Stop() {
		select {
		case <-t.idleTimer.C:
		default:
		}
	}
	t.stateLock.Lock()
	t.retries = 0
	t.stateLock.Unlock()
	t.ResetTimer()
}

// ResetTimer rearms the timer for idleDuration plus jitter in [0, idleDuration].
func (t *IdleTimer) ResetTimer() {
	jitter := time.Duration(t.randomSource.Int63n(int64(t.idleDuration) + 1))
	t.idleTimer.Reset(t.idleDuration + jitter)
}

// Stop releases the underlying timer.
func (t *IdleTimer) Stop() {
	t.idleTimer.Stop()
}

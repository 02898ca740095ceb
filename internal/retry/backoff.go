// Package retry implements exponential backoff for operations worth a
// bounded number of attempts before giving up — FTP active-mode data
// dials in this core, reconnect loops in the teacher this is grounded
// on.
//
// Grounded on the teacher's retry/backoffhandler.go, kept nearly
// verbatim: the exponential-with-jitter timer, the grace-period reset
// after a sustained success, and the overridable Clock for deterministic
// tests.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Clock lets tests substitute deterministic time sources.
type Clock struct {
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

var defaultClock = Clock{
	Now:   time.Now,
	After: time.After,
}

// Handler manages exponential backoff with a capped retry count. The
// base period is 1 second, doubling with each retry, randomized by
// jitter. Once a grace period (set via SetGracePeriod) elapses without
// a further failure, the retry count resets.
type Handler struct {
	// MaxRetries caps the number of retries; the zero value disables
	// retry entirely unless RetryForever is set.
	MaxRetries uint
	// RetryForever allows retrying indefinitely past MaxRetries, still
	// capping the backoff duration at the MaxRetries exponent.
	RetryForever bool
	// BaseTime is the initial backoff period; zero defaults to 1s.
	BaseTime time.Duration
	// Clock is overridable for tests; the zero value uses time.Now/After.
	Clock Clock

	retries       uint
	resetDeadline time.Time
}

func (h *Handler) clock() Clock {
	if h.Clock.Now == nil || h.Clock.After == nil {
		return defaultClock
	}
	return h.Clock
}

func (h *Handler) baseTime() time.Duration {
	if h.BaseTime == 0 {
		return time.Second
	}
	return h.BaseTime
}

// Timer returns a channel that fires when the next backoff period
// elapses, or nil if the maximum number of retries has been used.
func (h *Handler) Timer() <-chan time.Time {
	clock := h.clock()
	if !h.resetDeadline.IsZero() && clock.Now().After(h.resetDeadline) {
		h.retries = 0
		h.resetDeadline = time.Time{}
	}
	if h.retries >= h.MaxRetries {
		if !h.RetryForever {
			return nil
		}
	} else {
		h.retries++
	}
	maxWait := h.baseTime() * (1 << h.retries)
	wait := time.Duration(rand.Int63n(int64(maxWait)))
	return clock.After(wait)
}

// Wait blocks until the next backoff period elapses or ctx is
// canceled, reporting false if retries are exhausted or ctx ended
// first.
func (h *Handler) Wait(ctx context.Context) bool {
	c := h.Timer()
	if c == nil {
		return false
	}
	select {
	case <-c:
		return true
	case <-ctx.Done():
		return false
	}
}

// SetGracePeriod arranges for the retry count to reset to zero once a
// further grace period elapses without any intervening failure,
// matching the teacher's "sustained success resets backoff" policy.
func (h *Handler) SetGracePeriod() {
	clock := h.clock()
	maxWait := h.baseTime() * 2 << (h.retries + 1)
	wait := time.Duration(rand.Int63n(int64(maxWait)))
	h.resetDeadline = clock.Now().Add(wait)
}

// Retries returns the number of retries consumed so far.
func (h *Handler) Retries() int { return int(h.retries) }

// ReachedMaxRetries reports whether MaxRetries has been consumed.
func (h *Handler) ReachedMaxRetries() bool { return h.retries >= h.MaxRetries }

// Reset clears the retry count and any pending grace-period deadline.
func (h *Handler) Reset() {
	h.retries = 0
	h.resetDeadline = time.Time{}
}

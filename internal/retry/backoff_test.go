package retry

import (
	"context"
	"testing"
	"time"
)

func immediateAfter(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

func TestHandlerWaitRetries(t *testing.T) {
	ctx := context.Background()
	h := Handler{MaxRetries: 3, Clock: Clock{After: immediateAfter}}

	if !h.Wait(ctx) {
		t.Fatalf("wait failed immediately")
	}
	if !h.Wait(ctx) {
		t.Fatalf("wait failed after 1 retry")
	}
	if !h.Wait(ctx) {
		t.Fatalf("wait failed after 2 retries")
	}
	if h.Wait(ctx) {
		t.Fatalf("wait allowed after 3 (max) retries")
	}
	if !h.ReachedMaxRetries() {
		t.Fatalf("expected ReachedMaxRetries after 3 retries")
	}
}

func TestHandlerWaitCancel(t *testing.T) {
	h := Handler{MaxRetries: 3, Clock: Clock{After: func(time.Duration) <-chan time.Time { return make(chan time.Time) }}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if h.Wait(ctx) {
		t.Fatalf("wait allowed after cancel")
	}
}

func TestHandlerGracePeriodResetsRetries(t *testing.T) {
	currentTime := time.Now()
	h := Handler{
		MaxRetries: 1,
		Clock: Clock{
			Now:   func() time.Time { return currentTime },
			After: immediateAfter,
		},
	}
	ctx := context.Background()

	if !h.Wait(ctx) {
		t.Fatalf("wait failed immediately")
	}
	h.SetGracePeriod()

	// After one retry the grace period is drawn from [0, 8s).
	currentTime = currentTime.Add(9 * time.Second)
	if !h.Wait(ctx) {
		t.Fatalf("wait failed after the grace period expired")
	}
	if h.Wait(ctx) {
		t.Fatalf("wait allowed after 1 (max) retry")
	}
}

func TestHandlerRetryForever(t *testing.T) {
	ctx := context.Background()
	h := Handler{MaxRetries: 1, RetryForever: true, Clock: Clock{After: immediateAfter}}

	if !h.Wait(ctx) {
		t.Fatalf("wait failed on first retry")
	}
	if !h.Wait(ctx) {
		t.Fatalf("wait failed on second retry despite RetryForever")
	}
	if !h.Wait(ctx) {
		t.Fatalf("wait failed on third retry despite RetryForever")
	}
}

func TestHandlerReset(t *testing.T) {
	h := Handler{MaxRetries: 1, Clock: Clock{After: immediateAfter}}
	h.Wait(context.Background())
	if !h.ReachedMaxRetries() {
		t.Fatalf("expected max retries reached")
	}
	h.Reset()
	if h.Retries() != 0 {
		t.Fatalf("expected retries reset to 0, got %d", h.Retries())
	}
	if h.ReachedMaxRetries() {
		t.Fatalf("expected ReachedMaxRetries false after reset")
	}
}

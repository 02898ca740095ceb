package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Pool is a fixed set of N reactor loops, one goroutine each. Connections
// are assigned to a specific loop at accept time via Next, round-robin;
// from that point its registration, every timer (idle-timeout heartbeat
// included), every transport write, and close/shutdown fan-out for that
// connection run exclusively on that one loop's goroutine — see
// reactor.Conn. The blocking Read syscall itself necessarily runs on a
// dedicated goroutine per connection (Go's net.Conn has nothing to
// select on in place of it), but that goroutine never decides anything:
// it only feeds bytes to the protocol engine and signals read activity
// back to the loop for idle-timer bookkeeping.
type Pool struct {
	loops []*Loop
	next  uint64
}

// NewPool builds a pool of size loops (size <= 0 defaults to
// runtime.GOMAXPROCS(0), matching "usually N = number of worker cores").
func NewPool(size int, log *zerolog.Logger) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{loops: make([]*Loop, size)}
	for i := range p.loops {
		p.loops[i] = NewLoop(fmt.Sprintf("loop-%d", i), log)
	}
	return p
}

// Next returns the next loop to assign a new connection to, round-robin.
// Safe from any goroutine.
func (p *Pool) Next() *Loop {
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.loops[i%uint64(len(p.loops))]
}

// Size returns the number of loops in the pool.
func (p *Pool) Size() int { return len(p.loops) }

// Loops returns the pool's loops, for diagnostics only (queue depth etc).
func (p *Pool) Loops() []*Loop { return p.loops }

// Run starts every loop and blocks until ctx is canceled or one loop exits
// with an error, at which point every other loop is shut down too.
func (p *Pool) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, l := range p.loops {
		l := l
		group.Go(func() error {
			return l.Run(gctx)
		})
	}
	<-gctx.Done()
	p.Shutdown()
	return group.Wait()
}

// Shutdown stops every loop in the pool. Idempotent.
func (p *Pool) Shutdown() {
	for _, l := range p.loops {
		l.Shutdown()
	}
}

// Running reports whether every loop in the pool is still running; false
// once Shutdown has been called (or any individual loop has stopped).
func (p *Pool) Running() bool {
	for _, l := range p.loops {
		if !l.Running() {
			return false
		}
	}
	return true
}

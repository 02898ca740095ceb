// Package reactor implements the non-blocking I/O substrate shared by every
// protocol in polyserve: a fixed pool of single-threaded event loops, each
// multiplexing registered channels, deferred tasks and timers onto one
// goroutine.
//
// Go's netpoller already performs the kernel-level readiness multiplexing
// that a hand-rolled selector loop would otherwise need, so a Loop here is
// realized as a goroutine that owns a set of connections and communicates
// with their blocking I/O goroutines exclusively over channels — the same
// shape as h2mux's MuxReader/MuxWriter pair talking over a ReadyList and an
// abort channel. Once a Connection is assigned to a Loop, every task,
// timer firing and handler callback for it runs on that Loop's goroutine;
// no locking is required inside a handler for its own state.
package reactor

import (
	"container/heap"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrLoopShutdown is passed to every still-registered Handler's OnClosed
// when the owning Loop stops, whether via Shutdown or context
// cancellation.
var ErrLoopShutdown = errors.New("reactor: loop shut down")

// Task is a unit of work queued onto a Loop.
type Task func()

// Handler is registered against a Loop and receives readiness and timer
// callbacks. Conn identifies the registration so OnClosed can be ignored if
// it arrives after the handler has already been unregistered.
type Handler interface {
	// OnReadable is invoked when registered read interest is satisfied.
	OnReadable()
	// OnWritable is invoked when registered write interest is satisfied.
	OnWritable()
	// OnClosed is invoked exactly once, terminally, when the channel is
	// removed from the loop (transport error, EOF, or explicit close).
	OnClosed(cause error)
}

// timerEntry is one entry in the loop's deadline-ordered timer heap.
type timerEntry struct {
	deadline time.Time
	task     Task
	index    int
	canceled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Timer is a handle returned by Loop.Schedule; call Cancel to prevent the
// task from firing (a no-op if it has already fired).
type Timer struct {
	entry *timerEntry
}

func (t *Timer) Cancel() {
	if t != nil && t.entry != nil {
		t.entry.canceled = true
	}
}

// registration is a pending channel registration, drained at the top of
// each iteration before any readiness is dispatched.
type registration struct {
	handler Handler
	id      uint32
}

// Loop is one selector loop: one goroutine, one set of registered
// handlers, a task queue and a timer heap. The zero value is not usable;
// construct with NewLoop.
type Loop struct {
	name string
	log  *zerolog.Logger

	taskC   chan Task
	timerC  chan *timerEntry
	regC    chan registration
	deregC  chan uint32
	stopC   chan struct{}
	stopped *Fuse

	timers timerHeap

	// handlers holds every live registration, keyed by the id its Conn was
	// assigned. Mutated only from the loop's own goroutine (via
	// handleRegistration/the deregC case in Run), so it needs no lock.
	handlers map[uint32]Handler

	// assignCount counts the registrations this loop has handled; nothing
	// reads it. It is only ever mutated on this loop's own goroutine.
	assignCount int
}

// NewLoop creates a Loop but does not start it; call Run in its own
// goroutine.
func NewLoop(name string, log *zerolog.Logger) *Loop {
	return &Loop{
		name:     name,
		log:      log,
		taskC:    make(chan Task, 256),
		timerC:   make(chan *timerEntry, 16),
		regC:     make(chan registration, 16),
		deregC:   make(chan uint32, 16),
		stopC:    make(chan struct{}),
		stopped:  NewFuse(),
		handlers: make(map[uint32]Handler),
	}
}

// RequestWrite implements spec.md §4.A's request_write(handler) operation:
// it ensures write-readiness interest is set for handler by queuing
// handler.OnWritable to run on the loop's own goroutine. Cross-thread
// safe — a connection's writer-side goroutine calls this the moment its
// endpoint's net-out buffer has bytes to drain, rather than writing to
// the transport itself.
func (l *Loop) RequestWrite(handler Handler) {
	l.InvokeLater(handler.OnWritable)
}

// InvokeLater queues task to run on the loop's goroutine. Safe from any
// goroutine.
func (l *Loop) InvokeLater(task Task) {
	select {
	case l.taskC <- task:
	case <-l.stopC:
	}
}

// Schedule arranges for task to run on the loop's goroutine no earlier than
// deadline.
func (l *Loop) Schedule(deadline time.Time, task Task) *Timer {
	e := &timerEntry{deadline: deadline, task: task}
	select {
	case l.timerC <- e:
	case <-l.stopC:
	}
	return &Timer{entry: e}
}

// After is a convenience wrapper around Schedule using a relative duration.
func (l *Loop) After(d time.Duration, task Task) *Timer {
	return l.Schedule(time.Now().Add(d), task)
}

// Shutdown requests the loop terminate. Run returns as soon as it observes
// the request; tasks still queued at that moment are not guaranteed to
// run. Shutdown does not block; callers observing termination should use
// Run's return.
func (l *Loop) Shutdown() {
	l.stopped.Set(true)
	select {
	case <-l.stopC:
	default:
		close(l.stopC)
	}
}

// Running reports whether Shutdown has not yet been called on this loop.
func (l *Loop) Running() bool { return !l.stopped.Value() }

// Name returns the loop's label, used by diagnostics and metrics to
// distinguish loops in a pool.
func (l *Loop) Name() string { return l.name }

// QueueDepth returns the number of tasks currently buffered in the
// loop's task channel, for diagnostics and metrics only; it is a
// momentary snapshot, not a synchronized count.
func (l *Loop) QueueDepth() int { return len(l.taskC) }

// Run executes the loop until Shutdown is called or ctx is canceled. Each
// iteration: (1) drains pending registrations, (2) fires due timers,
// (3) drains the task queue, (4) blocks until the next event.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.drainRegistrations()
		l.fireDueTimers()
		if l.drainTasks() {
			l.closeAllHandlers(ErrLoopShutdown)
			return nil
		}

		var nextFire <-chan time.Time
		var timer *time.Timer
		if len(l.timers) > 0 {
			d := time.Until(l.timers[0].deadline)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			nextFire = timer.C
		}

		select {
		case <-l.stopC:
			if timer != nil {
				timer.Stop()
			}
			l.closeAllHandlers(ErrLoopShutdown)
			return nil
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			l.closeAllHandlers(ctx.Err())
			return ctx.Err()
		case t := <-l.taskC:
			if timer != nil {
				timer.Stop()
			}
			l.safeInvoke(t)
		case e := <-l.timerC:
			if timer != nil {
				timer.Stop()
			}
			heap.Push(&l.timers, e)
		case reg := <-l.regC:
			if timer != nil {
				timer.Stop()
			}
			l.handleRegistration(reg)
		case id := <-l.deregC:
			if timer != nil {
				timer.Stop()
			}
			delete(l.handlers, id)
		case <-nextFire:
		}
	}
}

// closeAllHandlers notifies every still-registered handler that the loop
// is going away, so a connection pinned to this loop is never left
// waiting on a task or timer that will now never fire. Called only from
// Run's own goroutine, at shutdown.
func (l *Loop) closeAllHandlers(cause error) {
	for id, h := range l.handlers {
		delete(l.handlers, id)
		l.safeInvoke(func() { h.OnClosed(cause) })
	}
}

func (l *Loop) drainRegistrations() {
	for {
		select {
		case reg := <-l.regC:
			l.handleRegistration(reg)
		default:
			return
		}
	}
}

func (l *Loop) handleRegistration(reg registration) {
	l.handlers[reg.id] = reg.handler
	l.assignCount++
}

func (l *Loop) fireDueTimers() {
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		e := heap.Pop(&l.timers).(*timerEntry)
		if e.canceled {
			continue
		}
		l.safeInvoke(e.task)
	}
}

// drainTasks runs all currently queued tasks and reports whether the loop
// should terminate (observed during draining).
func (l *Loop) drainTasks() bool {
	for {
		select {
		case <-l.stopC:
			return true
		case t := <-l.taskC:
			l.safeInvoke(t)
		default:
			return false
		}
	}
}

// safeInvoke runs a task, recovering and logging panics so one misbehaving
// timer or task callback cannot take down the whole loop.
func (l *Loop) safeInvoke(t Task) {
	defer func() {
		if r := recover(); r != nil && l.log != nil {
			l.log.Error().Interface("panic", r).Str("loop", l.name).Msg("recovered from task panic")
		}
	}()
	t()
}

// Register associates handler with id on this loop, realizing spec.md's
// register(channel, handler, initial_interest) primitive: id identifies
// the registration the way a selector key would, and h receives every
// OnReadable/OnWritable/OnClosed callback for it from here on, always on
// this loop's own goroutine. Cross-thread safe. A registered handler that
// is never explicitly Deregistered is still closed out when the loop
// itself shuts down (see closeAllHandlers).
func (l *Loop) Register(id uint32, h Handler) {
	select {
	case l.regC <- registration{id: id, handler: h}:
	case <-l.stopC:
	}
}

// Deregister removes a prior registration. Safe to call more than once;
// a ClosedChannel condition on an already-gone handler is a no-op by
// design (the handler is already gone).
func (l *Loop) Deregister(id uint32) {
	select {
	case l.deregC <- id:
	case <-l.stopC:
	}
}

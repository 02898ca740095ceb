package reactor

import "sync"

// Fuse is a data structure that can be set once to a particular value using
// Set(value). Subsequent calls to Set have no effect. Loop uses one to
// record that Shutdown was called (see Loop.Running).
type Fuse struct {
	value int32
	mu    sync.Mutex
	cond  *sync.Cond
}

func NewFuse() *Fuse {
	f := &Fuse{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Value returns the fused value. Before Set is called, this is false.
func (f *Fuse) Value() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value == 1
}

func (f *Fuse) Set(result bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	newValue := int32(2)
	if result {
		newValue = 1
	}
	if f.value == 0 {
		f.value = newValue
		f.cond.Broadcast()
	}
}

// Await blocks until Set has been called at least once.
func (f *Fuse) Await() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.value == 0 {
		f.cond.Wait()
	}
	return f.value == 1
}

package reactor

import "sync"

// ReadyList multiplexes several writability signals (keyed by a small
// integer id — a stream id, or a connection's registration id) onto a
// single channel a loop's writer goroutine can range over. A descriptor
// already queued is not queued twice, which prevents a single
// high-bandwidth stream from starving its siblings on the same
// connection.
type ReadyList struct {
	signalC   chan uint32
	waitC     chan uint32
	doneC     chan struct{}
	closeOnce sync.Once
}

func NewReadyList() *ReadyList {
	rl := &ReadyList{
		signalC: make(chan uint32),
		waitC:   make(chan uint32),
		doneC:   make(chan struct{}),
	}
	go rl.run()
	return rl
}

// Signal marks id as ready to be written.
func (r *ReadyList) Signal(id uint32) {
	select {
	case r.signalC <- id:
	case <-r.doneC:
	}
}

// ReadyChannel returns the channel that yields ready ids, in arrival order,
// deduplicated while queued.
func (r *ReadyList) ReadyChannel() <-chan uint32 {
	return r.waitC
}

func (r *ReadyList) Close() {
	r.closeOnce.Do(func() {
		close(r.doneC)
	})
}

func (r *ReadyList) run() {
	defer close(r.waitC)
	var queue readyQueue
	var firstReady *readyDescriptor
	active := newReadyDescriptorMap()
	for {
		if firstReady == nil {
			select {
			case i := <-r.signalC:
				firstReady = active.setIfMissing(i)
			case <-r.doneC:
				return
			}
		}
		select {
		case r.waitC <- firstReady.id:
			active.delete(firstReady.id)
			firstReady = queue.dequeue()
		case i := <-r.signalC:
			if newReady := active.setIfMissing(i); newReady != nil {
				queue.enqueue(newReady)
			}
		case <-r.doneC:
			return
		}
	}
}

type readyDescriptor struct {
	id   uint32
	next *readyDescriptor
}

// readyQueue is a singly linked FIFO of readyDescriptors. The zero value is
// an empty queue ready for use.
type readyQueue struct {
	head, tail *readyDescriptor
}

func (q *readyQueue) empty() bool { return q.head == nil }

func (q *readyQueue) enqueue(x *readyDescriptor) {
	if x.next != nil {
		panic("enqueued already-queued ready descriptor")
	}
	if q.empty() {
		q.head = x
		q.tail = x
		return
	}
	q.tail.next = x
	q.tail = x
}

func (q *readyQueue) dequeue() *readyDescriptor {
	if q.empty() {
		return nil
	}
	x := q.head
	q.head = x.next
	x.next = nil
	return x
}

// readyDescriptorMap tracks which ids are currently queued, reusing freed
// descriptor nodes instead of allocating on every signal.
type readyDescriptorMap struct {
	descriptors map[uint32]*readyDescriptor
	free        []*readyDescriptor
}

func newReadyDescriptorMap() *readyDescriptorMap {
	return &readyDescriptorMap{descriptors: make(map[uint32]*readyDescriptor)}
}

func (m *readyDescriptorMap) setIfMissing(id uint32) *readyDescriptor {
	if _, ok := m.descriptors[id]; ok {
		return nil
	}
	var d *readyDescriptor
	if n := len(m.free); n > 0 {
		d = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		d = &readyDescriptor{}
	}
	d.id = id
	m.descriptors[id] = d
	return d
}

func (m *readyDescriptorMap) delete(id uint32) {
	if d, ok := m.descriptors[id]; ok {
		m.free = append(m.free, d)
		delete(m.descriptors, id)
	}
}

// Package buffer provides the fixed-size byte buffer pool and per-connection
// endpoint buffer pair used by every protocol engine to stage bytes between
// the transport and a codec without a per-read/write allocation.
package buffer

import "sync"

// Pool is a sync.Pool of fixed-size byte slices. A Pool must not be copied
// after first use.
type Pool struct {
	buffers sync.Pool
	size    int
}

func NewPool(bufferSize int) *Pool {
	return &Pool{
		size: bufferSize,
		buffers: sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

func (p *Pool) Get() []byte {
	return p.buffers.Get().([]byte)
}

// Put returns buf to the pool. A buffer whose capacity no longer matches the
// pool's size (e.g. grown by append past the original allocation) is
// dropped rather than pooled undersized or oversized.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.buffers.Put(buf[:p.size])
}

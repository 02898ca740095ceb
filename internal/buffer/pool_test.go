package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolGetReturnsCorrectSize(t *testing.T) {
	p := NewPool(4096)
	buf := p.Get()
	assert.Len(t, buf, 4096)
}

func TestPoolPutDropsMismatchedCapacity(t *testing.T) {
	p := NewPool(16)
	mismatched := make([]byte, 8)
	p.Put(mismatched) // should not panic, and should not be pooled
	buf := p.Get()
	assert.Len(t, buf, 16)
}

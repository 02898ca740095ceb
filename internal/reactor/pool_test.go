package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolDefaultSize(t *testing.T) {
	p := NewPool(0, nil)
	assert.Greater(t, p.Size(), 0)
}

func TestPoolNextRoundRobins(t *testing.T) {
	p := NewPool(3, nil)
	first := p.Next()
	second := p.Next()
	third := p.Next()
	fourth := p.Next()
	assert.NotSame(t, first, second)
	assert.NotSame(t, second, third)
	assert.Same(t, first, fourth)
}

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFuseDefaultValue(t *testing.T) {
	f := NewFuse()
	assert.False(t, f.Value())
}

func TestFuseSetOnlyEffectiveOnce(t *testing.T) {
	f := NewFuse()
	f.Set(true)
	f.Set(false)
	assert.True(t, f.Value(), "second Set should be a no-op")
}

func TestFuseAwaitBlocksUntilSet(t *testing.T) {
	f := NewFuse()
	result := make(chan bool, 1)
	go func() { result <- f.Await() }()

	select {
	case <-result:
		t.Fatal("Await returned before Set")
	case <-time.After(20 * time.Millisecond):
	}

	f.Set(true)
	select {
	case v := <-result:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("Await never returned")
	}
}

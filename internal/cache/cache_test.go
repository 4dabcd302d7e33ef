package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("ab", ""), Key("a", "b"))
	assert.Len(t, Key("x"), 64)
}

func TestResponses(t *testing.T) {
	r := NewResponses(2, time.Hour)
	r.Put("k1", "one")
	r.Put("k2", "two")

	v, ok := r.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	r.Put("k3", "three")
	_, ok = r.Get("k2")
	assert.False(t, ok, "least recently used entry should be evicted")
	assert.Equal(t, 2, r.Len())
}

func TestResponsesExpire(t *testing.T) {
	r := NewResponses(4, 20*time.Millisecond)
	r.Put("k", "v")
	assert.Eventually(t, func() bool {
		_, ok := r.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

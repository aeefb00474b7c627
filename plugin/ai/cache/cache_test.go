package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGetReturnsPutValue(t *testing.T) {
	c := New[[]float32](10, time.Hour)

	c.Put("some text", []float32{0.1, 0.2})

	got, ok := c.Get("some text")
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, got)
}

func TestKeyNormalization(t *testing.T) {
	c := New[string](10, time.Hour)

	c.Put("  what IDE do I use?\r\n", "doc")

	got, ok := c.Get("what IDE do I use?\n")
	require.True(t, ok)
	assert.Equal(t, "doc", got)
	assert.Equal(t, 1, c.Len())
}

func TestTTLExpiration(t *testing.T) {
	clock := newFakeClock()
	c := New[string](10, time.Hour, WithClock(clock.Now))

	c.Put("k", "v")

	// A read within TTL returns the cached value.
	clock.Advance(59 * time.Minute)
	_, ok := c.Get("k")
	require.True(t, ok)

	// An expired entry is treated as absent and removed.
	clock.Advance(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := New[string](10, 0, WithClock(clock.Now))

	c.Put("k", "v")
	clock.Advance(1000 * time.Hour)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestEvictsExactlyOneOldestEntry(t *testing.T) {
	clock := newFakeClock()
	c := New[string](3, time.Hour, WithClock(clock.Now))

	c.Put("a", "1")
	clock.Advance(time.Minute)
	c.Put("b", "2")
	clock.Advance(time.Minute)
	c.Put("c", "3")
	clock.Advance(time.Minute)

	// At capacity: insert evicts "a" only.
	c.Put("d", "4")
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get("a")
	assert.False(t, ok)
	for _, key := range []string{"b", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "expected %q to survive eviction", key)
	}
}

func TestEvictionIsByInsertAgeNotAccessOrder(t *testing.T) {
	clock := newFakeClock()
	c := New[string](2, time.Hour, WithClock(clock.Now))

	c.Put("old", "1")
	clock.Advance(time.Minute)
	c.Put("new", "2")
	clock.Advance(time.Minute)

	// Reading "old" does not refresh its age.
	_, ok := c.Get("old")
	require.True(t, ok)

	c.Put("newest", "3")

	_, ok = c.Get("old")
	assert.False(t, ok, "oldest-by-timestamp entry should be evicted despite recent read")
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestPutExistingKeyRefreshesWithoutEviction(t *testing.T) {
	clock := newFakeClock()
	c := New[string](2, time.Hour, WithClock(clock.Now))

	c.Put("a", "1")
	clock.Advance(time.Minute)
	c.Put("b", "2")
	clock.Advance(time.Minute)

	c.Put("a", "updated")
	assert.Equal(t, 2, c.Len())

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", got)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](100, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%50)
				c.Put(key, n)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100)
}

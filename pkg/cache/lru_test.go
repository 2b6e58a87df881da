package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(maxSize int, ttl time.Duration) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(maxSize, ttl)
	c.now = clock.now
	return c, clock
}

func TestLRUCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("bundle-1", []byte(`{"a":1}`))

	got, ok := c.Get("bundle-1")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("k", []byte("v"))
	c.SetWithTTL("short", []byte("v"), time.Second)

	clock.advance(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("k")
	assert.True(t, ok)

	clock.advance(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entries are dropped on access")
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", []byte("3"))
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCache_UpdateRefreshesValue(t *testing.T) {
	c, clock := newTestCache(2, time.Minute)
	c.Set("a", []byte("1"))
	clock.advance(50 * time.Second)
	c.Set("a", []byte("2"))
	clock.advance(50 * time.Second)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", string(got))
	assert.Equal(t, 1, c.Size())
}

func TestLRUCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c := NewLRUCache(50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k-%d-%d", i, j%10)
				c.Set(key, []byte("v"))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 50)
}

func TestNewFromConfig(t *testing.T) {
	assert.Nil(t, New(nil))
	assert.Nil(t, New(&CacheConfig{Enabled: false}))

	cfg := DefaultCacheConfig()
	c := New(cfg)
	require.NotNil(t, c)
	assert.Equal(t, 512, c.maxSize)
	assert.Equal(t, 10*time.Minute, c.ttl)
}

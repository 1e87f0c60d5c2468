package funnel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type countingProducer struct {
	key   string
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (p *countingProducer) Key() string { return p.key }

func (p *countingProducer) Produce(_ context.Context, prefix string) ([]Object, error) {
	n := p.calls.Add(1)
	time.Sleep(p.delay)
	if p.fail.Load() {
		return nil, errors.New("boom")
	}
	s := state.New("item")
	s.Put("name", prefix)
	s.Put("generation", int(n))
	return []Object{FromState(s)}, nil
}

func newTestCache(clock *fakeClock) *Cache[string] {
	return New("db", Options{
		MaxSize:           10,
		ConcurrencyLevel:  2,
		ExpireAfterWrite:  1500 * time.Millisecond,
		RefreshAfterWrite: 1000 * time.Millisecond,
		Clock:             clock.Now,
	})
}

func TestGetFunnelsConcurrentMisses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	producer := &countingProducer{key: "k", delay: 20 * time.Millisecond}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			objects, err := cache.Get(context.Background(), producer)
			assert.NoError(t, err)
			assert.Len(t, objects, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), producer.calls.Load())
	assert.Equal(t, int64(1), cache.Stats().Misses)
	assert.Equal(t, int64(9), cache.Stats().Hits)
}

func TestGetRefreshesInBackground(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	producer := &countingProducer{key: "k"}

	first, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)
	require.Equal(t, 1, first[0].Values["generation"])

	clock.Advance(1200 * time.Millisecond)

	// stale value is served while the refresh runs
	stale, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)
	assert.Equal(t, 1, stale[0].Values["generation"])

	require.Eventually(t, func() bool {
		objects, err := cache.Get(context.Background(), producer)
		return err == nil && objects[0].Values["generation"] == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), cache.Stats().Refreshes)
}

func TestGetProducesSynchronouslyAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	producer := &countingProducer{key: "k"}

	_, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	objects, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)
	assert.Equal(t, 2, objects[0].Values["generation"])
	assert.Equal(t, int64(2), cache.Stats().Misses)
}

func TestFailedRefreshKeepsValue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	producer := &countingProducer{key: "k"}

	_, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)

	producer.fail.Store(true)
	clock.Advance(1100 * time.Millisecond)
	_, err = cache.Get(context.Background(), producer)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return cache.Stats().RefreshErrors == 1
	}, time.Second, 5*time.Millisecond)

	objects, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)
	assert.Equal(t, 1, objects[0].Values["generation"])
}

func TestInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(clock)
	producer := &countingProducer{key: "k"}

	_, err := cache.Get(context.Background(), producer)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate("k")
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Get(context.Background(), producer)
	require.NoError(t, err)
	assert.Equal(t, int32(2), producer.calls.Load())

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestObjectState(t *testing.T) {
	s := state.New("item")
	s.Put("tags", []any{"a"})
	o := FromState(s)

	copied := o.State("item")
	copied.Put("tags", []any{"b"})
	assert.Equal(t, []any{"a"}, o.Values["tags"])
	assert.Equal(t, s.ID(), copied.ID())
	assert.Equal(t, s.TypeID(), o.TypeID)
}

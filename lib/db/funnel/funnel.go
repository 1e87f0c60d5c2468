package funnel

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/lib/util"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("funnel")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const (
	DefaultMaxSize           = 10000
	DefaultConcurrencyLevel  = 20
	DefaultExpireAfterWrite  = 1500 * time.Millisecond
	DefaultRefreshAfterWrite = 1000 * time.Millisecond
)

// Options configures a Cache. Zero values are replaced by the defaults.
type Options struct {
	// MaxSize is the maximum number of keys over all shards
	MaxSize int
	// ConcurrencyLevel is the number of independently locked shards
	ConcurrencyLevel int
	// ExpireAfterWrite is the age after which a value is no longer served
	ExpireAfterWrite time.Duration
	// RefreshAfterWrite is the age after which a value is recomputed in the background
	RefreshAfterWrite time.Duration
	// Clock returns the current time, time.Now if nil
	Clock func() time.Time
	// Registry receives the cache statistics, a private registry if nil
	Registry metrics.Registry
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.ConcurrencyLevel <= 0 {
		o.ConcurrencyLevel = DefaultConcurrencyLevel
	}
	if o.ExpireAfterWrite <= 0 {
		o.ExpireAfterWrite = DefaultExpireAfterWrite
	}
	if o.RefreshAfterWrite <= 0 {
		o.RefreshAfterWrite = DefaultRefreshAfterWrite
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Registry == nil {
		o.Registry = metrics.NewRegistry()
	}
	return o
}

// --------------------------------------------------------------------------
// Producer
// --------------------------------------------------------------------------

// Producer computes the cached objects of one key. T is the database type.
type Producer[T any] interface {
	Key() string
	Produce(ctx context.Context, database T) ([]Object, error)
}

// ProducerFunc adapts a function to the Producer interface
type ProducerFunc[T any] struct {
	ID string
	Fn func(ctx context.Context, database T) ([]Object, error)
}

func (p ProducerFunc[T]) Key() string { return p.ID }

func (p ProducerFunc[T]) Produce(ctx context.Context, database T) ([]Object, error) {
	return p.Fn(ctx, database)
}

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// cell holds the current value of one key
type cell struct {
	mu         sync.Mutex
	value      []Object
	writtenAt  time.Time
	valid      bool
	refreshing bool
}

// Cache is a refresh-ahead cache bound to one database
type Cache[T any] struct {
	database T
	opts     Options
	shards   []*lru.Cache

	hits          metrics.Counter
	misses        metrics.Counter
	refreshes     metrics.Counter
	refreshErrors metrics.Counter
	produce       metrics.Timer
}

// New creates a cache for database
func New[T any](database T, opts Options) *Cache[T] {
	opts = opts.withDefaults()

	perShard := opts.MaxSize / opts.ConcurrencyLevel
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache[T]{
		database:      database,
		opts:          opts,
		shards:        make([]*lru.Cache, opts.ConcurrencyLevel),
		hits:          metrics.GetOrRegisterCounter("funnel.hits", opts.Registry),
		misses:        metrics.GetOrRegisterCounter("funnel.misses", opts.Registry),
		refreshes:     metrics.GetOrRegisterCounter("funnel.refreshes", opts.Registry),
		refreshErrors: metrics.GetOrRegisterCounter("funnel.refresh-errors", opts.Registry),
		produce:       metrics.GetOrRegisterTimer("funnel.produce", opts.Registry),
	}
	for i := range c.shards {
		shard, err := lru.New(perShard)
		if err != nil {
			// only returned for a non positive size
			panic(err)
		}
		c.shards[i] = shard
	}
	return c
}

func (c *Cache[T]) shard(key string) *lru.Cache {
	return c.shards[uint64(util.HashString(key, 0))%uint64(len(c.shards))]
}

func (c *Cache[T]) cell(key string) *cell {
	shard := c.shard(key)
	if v, ok := shard.Get(key); ok {
		return v.(*cell)
	}
	fresh := &cell{}
	if prev, found, _ := shard.PeekOrAdd(key, fresh); found {
		return prev.(*cell)
	}
	return fresh
}

// Get returns the objects of the producer's key. A missing or expired value is
// produced synchronously; a value older than the refresh interval is returned
// as is while a background refresh replaces it.
func (c *Cache[T]) Get(ctx context.Context, producer Producer[T]) ([]Object, error) {
	cl := c.cell(producer.Key())

	cl.mu.Lock()
	defer cl.mu.Unlock()

	age := c.opts.Clock().Sub(cl.writtenAt)
	if !cl.valid || age >= c.opts.ExpireAfterWrite {
		c.misses.Inc(1)
		value, err := c.run(ctx, producer)
		if err != nil {
			return nil, err
		}
		cl.value, cl.writtenAt, cl.valid = value, c.opts.Clock(), true
		return value, nil
	}

	c.hits.Inc(1)
	if age >= c.opts.RefreshAfterWrite && !cl.refreshing {
		cl.refreshing = true
		go c.refresh(context.WithoutCancel(ctx), cl, producer)
	}
	return cl.value, nil
}

func (c *Cache[T]) run(ctx context.Context, producer Producer[T]) ([]Object, error) {
	start := time.Now()
	defer c.produce.UpdateSince(start)
	return producer.Produce(ctx, c.database)
}

func (c *Cache[T]) refresh(ctx context.Context, cl *cell, producer Producer[T]) {
	c.refreshes.Inc(1)
	value, err := c.run(ctx, producer)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.refreshing = false
	if err != nil {
		c.refreshErrors.Inc(1)
		log.Warningf("refreshing %q failed: %v", producer.Key(), err)
		return
	}
	cl.value, cl.writtenAt, cl.valid = value, c.opts.Clock(), true
}

// Invalidate drops the value of key
func (c *Cache[T]) Invalidate(key string) {
	c.shard(key).Remove(key)
}

// Purge drops all values
func (c *Cache[T]) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

// Len returns the number of cached keys
func (c *Cache[T]) Len() int {
	n := 0
	for _, shard := range c.shards {
		n += shard.Len()
	}
	return n
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats is a snapshot of the cache counters
type Stats struct {
	Hits          int64
	Misses        int64
	Refreshes     int64
	RefreshErrors int64
	Produced      int64
	ProduceMean   time.Duration
}

// Stats returns the current counters
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Hits:          c.hits.Count(),
		Misses:        c.misses.Count(),
		Refreshes:     c.refreshes.Count(),
		RefreshErrors: c.refreshErrors.Count(),
		Produced:      c.produce.Count(),
		ProduceMean:   time.Duration(c.produce.Mean()),
	}
}

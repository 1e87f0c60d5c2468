package caching

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("cache")

// DefaultMaxSize is the default number of entries per cache
const DefaultMaxSize = 1000

// Options configures the caching stage
type Options struct {
	MaxSize int // Maximum number of entries per cache (default 1000)
}

// missing marks a cached ReadFirst without result
type missing struct{}

type partialCache = xsync.MapOf[db.Range, *db.PaginatedResult[*state.State]]

// Database is the caching stage
type Database struct {
	*db.Forwarding

	objectCache      *lru.Cache // uuid.UUID -> *state.State
	referenceCache   *lru.Cache // uuid.UUID -> *state.State (reference only)
	readAllCache     *lru.Cache // query key -> []*state.State
	readCountCache   *lru.Cache // query key -> int64
	readFirstCache   *lru.Cache // query key -> *state.State or missing
	readPartialCache *lru.Cache // query key -> *partialCache

	idOnlyQueryIDs *xsync.MapOf[uuid.UUID, struct{}]

	// generation counts flushes. Results are only stored if no flush happened
	// since the read was started.
	mu         sync.RWMutex
	generation atomic.Uint64
}

// New wraps next in a caching stage
func New(next db.Database, opts Options) *Database {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	newCache := func() *lru.Cache {
		c, err := lru.New(opts.MaxSize)
		if err != nil {
			// only returned for a non positive size
			panic(err)
		}
		return c
	}

	return &Database{
		Forwarding:       db.NewForwarding(next),
		objectCache:      newCache(),
		referenceCache:   newCache(),
		readAllCache:     newCache(),
		readCountCache:   newCache(),
		readFirstCache:   newCache(),
		readPartialCache: newCache(),
		idOnlyQueryIDs:   xsync.NewMapOf[uuid.UUID, struct{}](),
	}
}

// Stage returns a db.Stage that adds a caching stage to a chain
func Stage(opts Options) db.Stage {
	return func(next db.Database) db.Database {
		return New(next, opts)
	}
}

// --------------------------------------------------------------------------
// Cache Management
// --------------------------------------------------------------------------

// Flush drops all cached results
func (d *Database) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation.Add(1)
	d.objectCache.Purge()
	d.referenceCache.Purge()
	d.readAllCache.Purge()
	d.readCountCache.Purge()
	d.readFirstCache.Purge()
	d.readPartialCache.Purge()
}

// IDOnlyQueryIDs returns every id that was resolved through a query selecting
// records by id only
func (d *Database) IDOnlyQueryIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, d.idOnlyQueryIDs.Size())
	d.idOnlyQueryIDs.Range(func(id uuid.UUID, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// storeIfCurrent runs store unless the caches were flushed after gen was taken
func (d *Database) storeIfCurrent(gen uint64, store func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.generation.Load() == gen {
		store()
	}
}

// bypass reports whether q must not be served from or stored in the caches
func bypass(ctx context.Context, q *query.Query) bool {
	return q == nil || q.IsCacheDisabled() || db.IsPrimaryRead(ctx)
}

func cloneAll(states []*state.State) []*state.State {
	out := make([]*state.State, len(states))
	for i, s := range states {
		out[i] = s.Clone()
	}
	return out
}

func clonePage(p *db.PaginatedResult[*state.State]) *db.PaginatedResult[*state.State] {
	c := *p
	c.Items = cloneAll(p.Items)
	return &c
}

// remember puts the records in the per id caches
func (d *Database) remember(q *query.Query, states []*state.State) {
	target := d.objectCache
	if q.IsReferenceOnly() {
		target = d.referenceCache
	}
	for _, s := range states {
		target.Add(s.ID(), s.Clone())
	}
}

// lookup returns the cached record with id if it has the type selected by q
func (d *Database) lookup(q *query.Query, id uuid.UUID) (*state.State, bool) {
	v, ok := d.objectCache.Get(id)
	if !ok && q.IsReferenceOnly() {
		v, ok = d.referenceCache.Get(id)
	}
	if !ok {
		return nil, false
	}
	s := v.(*state.State)
	if q.Group() != "" && q.Group() != s.Type() {
		return nil, false
	}
	if q.IsReferenceOnly() && !s.IsReferenceOnly() {
		r := state.NewReference(s.Type(), s.ID())
		r.SetLastUpdate(s.LastUpdate())
		return r, true
	}
	return s.Clone(), true
}

// readByIDs answers an id only query, reading only the ids that are not cached
func (d *Database) readByIDs(ctx context.Context, q *query.Query, ids []uuid.UUID) ([]*state.State, error) {
	var (
		found     = make(map[uuid.UUID]*state.State, len(ids))
		queued    = map[uuid.UUID]bool{}
		remaining []any
	)
	gen := d.generation.Load()
	for _, id := range ids {
		if s, ok := d.lookup(q, id); ok {
			found[id] = s
		} else if !queued[id] {
			queued[id] = true
			remaining = append(remaining, id)
		}
	}

	if len(remaining) > 0 {
		log.Debugf("%d of %d ids not cached", len(remaining), len(ids))
		fetched, err := d.Next.ReadAll(ctx, q.Where(query.Eq(query.KeyID, remaining...)))
		if err != nil {
			return nil, err
		}
		d.storeIfCurrent(gen, func() { d.remember(q, fetched) })
		for _, s := range fetched {
			found[s.ID()] = s
		}
	}

	result := make([]*state.State, 0, len(found))
	seen := make(map[uuid.UUID]bool, len(found))
	for _, id := range ids {
		if s, ok := found[id]; ok && !seen[id] {
			seen[id] = true
			d.idOnlyQueryIDs.Store(id, struct{}{})
			result = append(result, s)
		}
	}
	if err := query.SortStates(q.Sorters(), result); err != nil {
		return nil, db.WrapError(d, err)
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Read Operations (docu see db.Database)
// --------------------------------------------------------------------------

func (d *Database) ReadAll(ctx context.Context, q *query.Query) ([]*state.State, error) {
	q = d.FilterQuery(q)
	if bypass(ctx, q) {
		return d.Next.ReadAll(ctx, q)
	}
	if ids, ok := q.FindIDOnlyValues(); ok {
		return d.readByIDs(ctx, q, ids)
	}

	key := q.Key()
	if v, ok := d.readAllCache.Get(key); ok {
		return cloneAll(v.([]*state.State)), nil
	}

	gen := d.generation.Load()
	result, err := d.Next.ReadAll(ctx, q)
	if err != nil {
		return nil, err
	}
	d.storeIfCurrent(gen, func() {
		d.readAllCache.Add(key, cloneAll(result))
		d.remember(q, result)
	})
	return result, nil
}

func (d *Database) ReadFirst(ctx context.Context, q *query.Query) (*state.State, error) {
	q = d.FilterQuery(q)
	if bypass(ctx, q) {
		return d.Next.ReadFirst(ctx, q)
	}
	if ids, ok := q.FindIDOnlyValues(); ok {
		result, err := d.readByIDs(ctx, q, ids)
		if err != nil || len(result) == 0 {
			return nil, err
		}
		return result[0], nil
	}

	key := q.Key()
	if v, ok := d.readFirstCache.Get(key); ok {
		if s, ok := v.(*state.State); ok {
			return s.Clone(), nil
		}
		return nil, nil
	}

	gen := d.generation.Load()
	result, err := d.Next.ReadFirst(ctx, q)
	if err != nil {
		return nil, err
	}
	if result == nil {
		d.storeIfCurrent(gen, func() { d.readFirstCache.Add(key, missing{}) })
		return nil, nil
	}
	d.storeIfCurrent(gen, func() {
		d.readFirstCache.Add(key, result.Clone())
		d.remember(q, []*state.State{result})
	})
	return result, nil
}

func (d *Database) ReadCount(ctx context.Context, q *query.Query) (int64, error) {
	q = d.FilterQuery(q)
	if bypass(ctx, q) {
		return d.Next.ReadCount(ctx, q)
	}

	key := q.Key()
	if v, ok := d.readCountCache.Get(key); ok {
		return v.(int64), nil
	}
	if v, ok := d.readAllCache.Peek(key); ok {
		return int64(len(v.([]*state.State))), nil
	}
	if v, ok := d.readPartialCache.Peek(key); ok {
		var (
			count int64
			found bool
		)
		v.(*partialCache).Range(func(_ db.Range, page *db.PaginatedResult[*state.State]) bool {
			count, found = page.Count, true
			return false
		})
		if found {
			return count, nil
		}
	}

	gen := d.generation.Load()
	count, err := d.Next.ReadCount(ctx, q)
	if err != nil {
		return 0, err
	}
	d.storeIfCurrent(gen, func() { d.readCountCache.Add(key, count) })
	return count, nil
}

func (d *Database) ReadPartial(ctx context.Context, q *query.Query, offset int64, limit int) (*db.PaginatedResult[*state.State], error) {
	q = d.FilterQuery(q)
	if bypass(ctx, q) {
		return d.Next.ReadPartial(ctx, q, offset, limit)
	}

	pages := d.pages(q.Key())
	r := db.Range{Offset: offset, Limit: limit}
	if page, ok := pages.Load(r); ok {
		return clonePage(page), nil
	}

	gen := d.generation.Load()
	page, err := d.Next.ReadPartial(ctx, q, offset, limit)
	if err != nil {
		return nil, err
	}
	d.storeIfCurrent(gen, func() {
		pages.Store(r, clonePage(page))
		d.remember(q, page.Items)
	})
	return page, nil
}

// pages returns the page cache of a query, creating it if needed
func (d *Database) pages(key string) *partialCache {
	if v, ok := d.readPartialCache.Get(key); ok {
		return v.(*partialCache)
	}
	fresh := xsync.NewMapOf[db.Range, *db.PaginatedResult[*state.State]]()
	if prev, found, _ := d.readPartialCache.PeekOrAdd(key, fresh); found {
		return prev.(*partialCache)
	}
	return fresh
}

// --------------------------------------------------------------------------
// Write Operations (docu see db.Database)
// --------------------------------------------------------------------------

func (d *Database) CommitWrites(ctx context.Context) error {
	defer d.Flush()
	return d.Forwarding.CommitWrites(ctx)
}

func (d *Database) CommitWritesEventually(ctx context.Context) error {
	defer d.Flush()
	return d.Forwarding.CommitWritesEventually(ctx)
}

func (d *Database) Save(ctx context.Context, s *state.State) error {
	defer d.Flush()
	return d.Forwarding.Save(ctx, s)
}

func (d *Database) SaveUnsafely(ctx context.Context, s *state.State) error {
	defer d.Flush()
	return d.Forwarding.SaveUnsafely(ctx, s)
}

func (d *Database) Index(ctx context.Context, s *state.State) error {
	defer d.Flush()
	return d.Forwarding.Index(ctx, s)
}

func (d *Database) Delete(ctx context.Context, s *state.State) error {
	defer d.Flush()
	return d.Forwarding.Delete(ctx, s)
}

func (d *Database) DeleteByQuery(ctx context.Context, q *query.Query) error {
	defer d.Flush()
	return d.Forwarding.DeleteByQuery(ctx, q)
}

func (d *Database) Recalculate(ctx context.Context, s *state.State, fields ...string) error {
	defer d.Flush()
	return d.Forwarding.Recalculate(ctx, s, fields...)
}

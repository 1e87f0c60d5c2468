package db

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db/funnel"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("db")

// DefaultFetchSize is used by ReadIterable for non positive fetch sizes
const DefaultFetchSize = 100

// EngineDatabase lifts an Engine to a full Database. It resolves sub-queries,
// implements paging, grouping and iteration on top of Engine.Select and
// buffers writes until they are handed to Engine.Apply.
type EngineDatabase struct {
	*WriteBuffer
	engine    Engine
	notifiers *xsync.MapOf[UpdateNotifier, struct{}]
	funnel    *funnel.Cache[Database]
}

// Option configures an EngineDatabase
type Option func(d *EngineDatabase)

// WithFunnelCache serves ReadAll and ReadFirst of typed queries from a
// refresh-ahead cache. Queries opt out with query.NoFunnelCache, primary reads
// always bypass it.
func WithFunnelCache(opts funnel.Options) Option {
	return func(d *EngineDatabase) {
		d.funnel = funnel.New[Database](d, opts)
	}
}

// NewDatabase creates a database backed by engine
func NewDatabase(engine Engine, opts ...Option) *EngineDatabase {
	d := &EngineDatabase{
		engine:    engine,
		notifiers: xsync.NewMapOf[UpdateNotifier, struct{}](),
	}
	d.WriteBuffer = NewWriteBuffer(d.apply)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Engine returns the wrapped engine
func (d *EngineDatabase) Engine() Engine {
	return d.engine
}

// Close closes the engine
func (d *EngineDatabase) Close() error {
	return d.engine.Close()
}

// --------------------------------------------------------------------------
// Internal Helpers
// --------------------------------------------------------------------------

// selectAll resolves the sub-queries of q and selects all matching rows
func (d *EngineDatabase) selectAll(ctx context.Context, q *query.Query) ([]*state.State, error) {
	if q == nil {
		q = query.FromAll()
	}
	p, err := query.ResolvePredicate(ctx, q.Predicate(), ResolverFor(d))
	if err != nil {
		return nil, WrapError(d, err)
	}
	if p != q.Predicate() {
		q = q.Where(p)
	}

	states, err := d.engine.Select(ctx, q)
	if err != nil {
		return nil, WrapError(d, err)
	}
	if q.IsReferenceOnly() {
		for i, s := range states {
			states[i] = state.NewReference(s.Type(), s.ID())
			states[i].SetLastUpdate(s.LastUpdate())
		}
	}
	return states, nil
}

// useFunnel reports whether reads of q are served by the funnel cache. Only
// typed queries qualify, the snapshots do not carry the type name.
func (d *EngineDatabase) useFunnel(ctx context.Context, q *query.Query) bool {
	return d.funnel != nil && q != nil && q.Group() != "" &&
		!q.IsFunnelCacheDisabled() && !q.IsReferenceOnly() && !IsPrimaryRead(ctx)
}

func (d *EngineDatabase) readFunnel(ctx context.Context, q *query.Query) ([]*state.State, error) {
	objects, err := d.funnel.Get(ctx, funnel.ProducerFunc[Database]{
		ID: q.Key(),
		Fn: func(ctx context.Context, _ Database) ([]funnel.Object, error) {
			states, err := d.selectAll(ctx, q)
			if err != nil {
				return nil, err
			}
			return funnel.FromStates(states), nil
		},
	})
	if err != nil {
		return nil, err
	}
	states := make([]*state.State, len(objects))
	for i, o := range objects {
		states[i] = o.State(q.Group())
	}
	return states, nil
}

func groupKey(values []any) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(util.ToString(v))
	}
	return sb.String()
}

// group groups states by the values of fields, keeping the order of the first
// occurrence of every group
func group(states []*state.State, fields []string) []*Grouping {
	var (
		groups []*Grouping
		index  = map[string]*Grouping{}
	)
	for _, s := range states {
		keys := make([]any, len(fields))
		for i, f := range fields {
			keys[i] = s.Get(f)
		}
		k := groupKey(keys)
		g, ok := index[k]
		if !ok {
			g = &Grouping{Keys: keys}
			index[k] = g
			groups = append(groups, g)
		}
		g.Count++
	}
	return groups
}

func page[T any](items []T, offset int64, limit int) *PaginatedResult[T] {
	result := &PaginatedResult[T]{Offset: offset, Limit: limit, Count: int64(len(items))}
	if offset < 0 || offset >= int64(len(items)) {
		result.Items = []T{}
		return result
	}
	end := int64(len(items))
	if limit > 0 && offset+int64(limit) < end {
		end = offset + int64(limit)
	}
	result.Items = items[offset:end]
	return result
}

// --------------------------------------------------------------------------
// Interface Methods (docu see Database)
// --------------------------------------------------------------------------

func (d *EngineDatabase) Name() string {
	return d.engine.Name()
}

func (d *EngineDatabase) ReadAll(ctx context.Context, q *query.Query) ([]*state.State, error) {
	if d.useFunnel(ctx, q) {
		return d.readFunnel(ctx, q)
	}
	return d.selectAll(ctx, q)
}

func (d *EngineDatabase) ReadAllGrouped(ctx context.Context, q *query.Query, fields ...string) ([]*Grouping, error) {
	states, err := d.selectAll(ctx, q)
	if err != nil {
		return nil, err
	}
	return group(states, fields), nil
}

func (d *EngineDatabase) ReadCount(ctx context.Context, q *query.Query) (int64, error) {
	states, err := d.selectAll(ctx, q)
	if err != nil {
		return 0, err
	}
	return int64(len(states)), nil
}

func (d *EngineDatabase) ReadFirst(ctx context.Context, q *query.Query) (*state.State, error) {
	states, err := d.ReadAll(ctx, q)
	if err != nil || len(states) == 0 {
		return nil, err
	}
	return states[0], nil
}

func (d *EngineDatabase) ReadIterable(ctx context.Context, q *query.Query, fetchSize int) iter.Seq2[*state.State, error] {
	return Paginate(ctx, d, q, fetchSize)
}

func (d *EngineDatabase) ReadLastUpdate(ctx context.Context, q *query.Query) (time.Time, error) {
	states, err := d.selectAll(ctx, q)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, s := range states {
		if s.LastUpdate().After(last) {
			last = s.LastUpdate()
		}
	}
	return last, nil
}

func (d *EngineDatabase) ReadPartial(ctx context.Context, q *query.Query, offset int64, limit int) (*PaginatedResult[*state.State], error) {
	states, err := d.selectAll(ctx, q)
	if err != nil {
		return nil, err
	}
	return page(states, offset, limit), nil
}

func (d *EngineDatabase) ReadPartialGrouped(ctx context.Context, q *query.Query, offset int64, limit int, fields ...string) (*PaginatedResult[*Grouping], error) {
	groups, err := d.ReadAllGrouped(ctx, q, fields...)
	if err != nil {
		return nil, err
	}
	return page(groups, offset, limit), nil
}

func (d *EngineDatabase) Save(ctx context.Context, s *state.State) error {
	if s.HasErrors() {
		return NewError(d, RetCValidation, "refusing to save "+s.String()+" with validation errors", nil)
	}
	return d.Write(ctx, Write{Operation: OpSave, State: s})
}

func (d *EngineDatabase) DeleteByQuery(ctx context.Context, q *query.Query) error {
	if q == nil {
		q = query.FromAll()
	}
	states, err := d.selectAll(ctx, q.ReferenceOnly())
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}

	ctx, err = d.BeginWrites(ctx)
	if err != nil {
		return err
	}
	defer d.EndWrites(ctx)
	for _, s := range states {
		if err := d.Delete(ctx, s); err != nil {
			return err
		}
	}
	return d.CommitWrites(ctx)
}

func (d *EngineDatabase) Now() time.Time {
	return d.engine.Now()
}

func (d *EngineDatabase) AddUpdateNotifier(n UpdateNotifier) {
	d.notifiers.Store(n, struct{}{})
}

func (d *EngineDatabase) RemoveUpdateNotifier(n UpdateNotifier) {
	d.notifiers.Delete(n)
}

// apply stamps the writes, hands them to the engine and informs the notifiers
func (d *EngineDatabase) apply(ctx context.Context, writes []Write, eventually bool) error {
	now := d.engine.Now()
	for _, w := range writes {
		w.State.SetLastUpdate(now)
	}

	if err := d.engine.Apply(ctx, writes, eventually); err != nil {
		return WrapError(d, err)
	}

	for _, w := range writes {
		if w.Operation != OpSave && w.Operation != OpSaveUnsafely {
			continue
		}
		w.State.ClearAtomicOperations()
		d.notifiers.Range(func(n UpdateNotifier, _ struct{}) bool {
			n.OnUpdate(ctx, w.State)
			return true
		})
	}
	if d.funnel != nil {
		d.funnel.Purge()
	}
	return nil
}

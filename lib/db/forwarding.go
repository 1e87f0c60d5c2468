package db

import (
	"context"
	"iter"
	"time"

	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
)

// Forwarding is a Database that hands every call to Next. It is the base of all
// database stages: a stage embeds Forwarding and overrides the methods it
// changes.
//
// QueryFilter is applied to every query before it is passed on, StateFilter to
// every record before it is written. Both are optional.
type Forwarding struct {
	Next        Database
	QueryFilter func(q *query.Query) *query.Query
	StateFilter func(s *state.State) *state.State
}

// NewForwarding creates a forwarding stage without filters
func NewForwarding(next Database) *Forwarding {
	return &Forwarding{Next: next}
}

func (f *Forwarding) filterQuery(q *query.Query) *query.Query {
	if f.QueryFilter == nil {
		return q
	}
	return f.QueryFilter(q)
}

func (f *Forwarding) filterState(s *state.State) *state.State {
	if f.StateFilter == nil {
		return s
	}
	return f.StateFilter(s)
}

// FilterQuery applies the query filter; stages overriding read methods call it
// before delegating
func (f *Forwarding) FilterQuery(q *query.Query) *query.Query {
	return f.filterQuery(q)
}

// FilterState applies the state filter
func (f *Forwarding) FilterState(s *state.State) *state.State {
	return f.filterState(s)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see Database)
// --------------------------------------------------------------------------

func (f *Forwarding) Name() string {
	return f.Next.Name()
}

func (f *Forwarding) ReadAll(ctx context.Context, q *query.Query) ([]*state.State, error) {
	return f.Next.ReadAll(ctx, f.filterQuery(q))
}

func (f *Forwarding) ReadAllGrouped(ctx context.Context, q *query.Query, fields ...string) ([]*Grouping, error) {
	return f.Next.ReadAllGrouped(ctx, f.filterQuery(q), fields...)
}

func (f *Forwarding) ReadCount(ctx context.Context, q *query.Query) (int64, error) {
	return f.Next.ReadCount(ctx, f.filterQuery(q))
}

func (f *Forwarding) ReadFirst(ctx context.Context, q *query.Query) (*state.State, error) {
	return f.Next.ReadFirst(ctx, f.filterQuery(q))
}

func (f *Forwarding) ReadIterable(ctx context.Context, q *query.Query, fetchSize int) iter.Seq2[*state.State, error] {
	return f.Next.ReadIterable(ctx, f.filterQuery(q), fetchSize)
}

func (f *Forwarding) ReadLastUpdate(ctx context.Context, q *query.Query) (time.Time, error) {
	return f.Next.ReadLastUpdate(ctx, f.filterQuery(q))
}

func (f *Forwarding) ReadPartial(ctx context.Context, q *query.Query, offset int64, limit int) (*PaginatedResult[*state.State], error) {
	return f.Next.ReadPartial(ctx, f.filterQuery(q), offset, limit)
}

func (f *Forwarding) ReadPartialGrouped(ctx context.Context, q *query.Query, offset int64, limit int, fields ...string) (*PaginatedResult[*Grouping], error) {
	return f.Next.ReadPartialGrouped(ctx, f.filterQuery(q), offset, limit, fields...)
}

func (f *Forwarding) BeginWrites(ctx context.Context) (context.Context, error) {
	return f.Next.BeginWrites(ctx)
}

func (f *Forwarding) BeginIsolatedWrites(ctx context.Context) (context.Context, error) {
	return f.Next.BeginIsolatedWrites(ctx)
}

func (f *Forwarding) CommitWrites(ctx context.Context) error {
	return f.Next.CommitWrites(ctx)
}

func (f *Forwarding) CommitWritesEventually(ctx context.Context) error {
	return f.Next.CommitWritesEventually(ctx)
}

func (f *Forwarding) EndWrites(ctx context.Context) error {
	return f.Next.EndWrites(ctx)
}

func (f *Forwarding) Save(ctx context.Context, s *state.State) error {
	return f.Next.Save(ctx, f.filterState(s))
}

func (f *Forwarding) SaveUnsafely(ctx context.Context, s *state.State) error {
	return f.Next.SaveUnsafely(ctx, f.filterState(s))
}

func (f *Forwarding) Index(ctx context.Context, s *state.State) error {
	return f.Next.Index(ctx, f.filterState(s))
}

func (f *Forwarding) Delete(ctx context.Context, s *state.State) error {
	return f.Next.Delete(ctx, f.filterState(s))
}

func (f *Forwarding) DeleteByQuery(ctx context.Context, q *query.Query) error {
	return f.Next.DeleteByQuery(ctx, f.filterQuery(q))
}

func (f *Forwarding) Recalculate(ctx context.Context, s *state.State, fields ...string) error {
	return f.Next.Recalculate(ctx, f.filterState(s), fields...)
}

func (f *Forwarding) Now() time.Time {
	return f.Next.Now()
}

func (f *Forwarding) AddUpdateNotifier(n UpdateNotifier) {
	f.Next.AddUpdateNotifier(n)
}

func (f *Forwarding) RemoveUpdateNotifier(n UpdateNotifier) {
	f.Next.RemoveUpdateNotifier(n)
}

package db

import (
	"context"
	"iter"
	"time"

	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Range addresses one page of a query result
type Range struct {
	Offset int64
	Limit  int
}

// PaginatedResult is one page of a query result
type PaginatedResult[T any] struct {
	Offset int64 `json:"offset"`
	Limit  int   `json:"limit"`
	// Count is the total number of items matching the query, not the page size
	Count int64 `json:"count"`
	Items []T   `json:"items"`
}

// HasNext reports whether there are items after this page
func (p *PaginatedResult[T]) HasNext() bool {
	return p.Offset+int64(len(p.Items)) < p.Count
}

// NextOffset returns the offset of the following page
func (p *PaginatedResult[T]) NextOffset() int64 {
	return p.Offset + int64(p.Limit)
}

// Grouping is one group of a grouped read: the distinct values of the grouped
// fields and the number of records sharing them
type Grouping struct {
	Keys  []any `json:"keys"`
	Count int64 `json:"count"`
}

// Write is one buffered write of a transaction
type Write struct {
	Operation WriteOperation
	State     *state.State
	// Fields is set for recalculations and names the fields to refresh
	Fields []string
}

// UpdateNotifier is informed about every record saved through a database.
// Implementations must be comparable (e.g. pointers), they are used as map keys.
type UpdateNotifier interface {
	OnUpdate(ctx context.Context, s *state.State)
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Database is the contract every backend and every stage of a database chain
// implements. All blocking methods take a context as their first argument.
//
// Writes are either applied immediately or, between BeginWrites and
// CommitWrites, buffered in the context returned by BeginWrites and applied as
// one batch. Buffered writes are bound to that context; a context carrying an
// open batch must not be shared between goroutines.
type Database interface {

	// Name returns a human readable name used in logs and errors
	Name() string

	// --------------------------------------------------------------------------
	// Read Operations
	// --------------------------------------------------------------------------

	// ReadAll returns all records matching the query
	ReadAll(ctx context.Context, q *query.Query) ([]*state.State, error)

	// ReadAllGrouped groups all matching records by the values of the given fields
	ReadAllGrouped(ctx context.Context, q *query.Query, fields ...string) ([]*Grouping, error)

	// ReadCount returns the number of matching records
	ReadCount(ctx context.Context, q *query.Query) (int64, error)

	// ReadFirst returns the first matching record or nil if there is none
	ReadFirst(ctx context.Context, q *query.Query) (*state.State, error)

	// ReadIterable streams all matching records, loading fetchSize records at a time.
	// Iteration stops after the first error.
	ReadIterable(ctx context.Context, q *query.Query, fetchSize int) iter.Seq2[*state.State, error]

	// ReadLastUpdate returns the most recent update time of all matching records
	// or the zero time if no record matches
	ReadLastUpdate(ctx context.Context, q *query.Query) (time.Time, error)

	// ReadPartial returns one page of the matching records
	ReadPartial(ctx context.Context, q *query.Query, offset int64, limit int) (*PaginatedResult[*state.State], error)

	// ReadPartialGrouped returns one page of the groups of ReadAllGrouped
	ReadPartialGrouped(ctx context.Context, q *query.Query, offset int64, limit int, fields ...string) (*PaginatedResult[*Grouping], error)

	// --------------------------------------------------------------------------
	// Write Lifecycle
	// --------------------------------------------------------------------------

	// BeginWrites starts buffering writes. Calls nest; only the outermost
	// CommitWrites applies the batch. The returned context must be passed to all
	// following writes and to the matching commit and end calls.
	BeginWrites(ctx context.Context) (context.Context, error)

	// BeginIsolatedWrites starts a new batch that is independent of any batch
	// already open in ctx
	BeginIsolatedWrites(ctx context.Context) (context.Context, error)

	// CommitWrites applies the buffered writes and waits until they are durable
	// as far as the backend guarantees durability
	CommitWrites(ctx context.Context) error

	// CommitWritesEventually applies the buffered writes without waiting for them
	// to be visible to other readers
	CommitWritesEventually(ctx context.Context) error

	// EndWrites closes the batch. Writes that were not committed are discarded.
	EndWrites(ctx context.Context) error

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Save validates and stores the record. Queued atomic operations of the
	// record are applied against the stored row as part of the same write.
	Save(ctx context.Context, s *state.State) error

	// SaveUnsafely stores the record without validation
	SaveUnsafely(ctx context.Context, s *state.State) error

	// Index refreshes the index entries of an already stored record
	Index(ctx context.Context, s *state.State) error

	// Delete removes the record
	Delete(ctx context.Context, s *state.State) error

	// DeleteByQuery removes all matching records
	DeleteByQuery(ctx context.Context, q *query.Query) error

	// Recalculate refreshes derived values of the given fields
	Recalculate(ctx context.Context, s *state.State, fields ...string) error

	// --------------------------------------------------------------------------
	// Misc
	// --------------------------------------------------------------------------

	// Now returns the current time as seen by the database. Values that are
	// compared across processes (e.g. lock pings) should use this clock.
	Now() time.Time

	// AddUpdateNotifier registers a notifier for saved records
	AddUpdateNotifier(n UpdateNotifier)

	// RemoveUpdateNotifier unregisters a notifier
	RemoveUpdateNotifier(n UpdateNotifier)
}

// Stage wraps a database in another database, e.g. a cache
type Stage func(next Database) Database

// Chain assembles a database chain. Stages are applied in order, so the last
// stage is the outermost one:
//
//	Chain(backend, caching.Stage(caching.Options{}), profiling.Stage(nil))
//
// yields profiling -> caching -> backend.
func Chain(backend Database, stages ...Stage) Database {
	d := backend
	for _, stage := range stages {
		d = stage(d)
	}
	return d
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is the minimal contract of a concrete storage backend.
// NewDatabase turns an Engine into a full Database.
type Engine interface {
	// Name returns the name of the backend
	Name() string

	// Select returns copies of all records matching the group and predicate of
	// q, sorted by its sorters. Sub-query values are already resolved.
	// Unsupported operators are reported as *query.UnsupportedOperatorError.
	Select(ctx context.Context, q *query.Query) ([]*state.State, error)

	// Apply executes the writes as one atomic batch. For saves, the queued
	// atomic operations of each state must be merged with the stored row
	// (state.Merge) inside the batch. If eventually is set, the engine may
	// return before the batch is visible to readers.
	Apply(ctx context.Context, writes []Write, eventually bool) error

	// Now returns the engine clock
	Now() time.Time

	// Close releases all resources
	Close() error
}

package db

import (
	"context"
	"iter"

	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Immediate Writes
// --------------------------------------------------------------------------

// SaveImmediately saves s in its own batch and waits for the commit, even if
// ctx carries an open batch
func SaveImmediately(ctx context.Context, d Database, s *state.State) error {
	return Immediately(ctx, d, func(ctx context.Context) error {
		return d.Save(ctx, s)
	})
}

// DeleteImmediately deletes s in its own batch and waits for the commit
func DeleteImmediately(ctx context.Context, d Database, s *state.State) error {
	return Immediately(ctx, d, func(ctx context.Context) error {
		return d.Delete(ctx, s)
	})
}

// Immediately runs fn inside an isolated batch and commits it
func Immediately(ctx context.Context, d Database, fn func(ctx context.Context) error) (err error) {
	ctx, err = d.BeginIsolatedWrites(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if endErr := d.EndWrites(ctx); err == nil {
			err = endErr
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	return d.CommitWrites(ctx)
}

// InBatch runs fn between BeginWrites and EndWrites and commits the batch if fn
// succeeds. Nested calls join the outer batch.
func InBatch(ctx context.Context, d Database, eventually bool, fn func(ctx context.Context) error) (err error) {
	ctx, err = d.BeginWrites(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if endErr := d.EndWrites(ctx); err == nil {
			err = endErr
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	if eventually {
		return d.CommitWritesEventually(ctx)
	}
	return d.CommitWrites(ctx)
}

// --------------------------------------------------------------------------
// Sub-Query Resolution
// --------------------------------------------------------------------------

type resolver struct {
	d Database
}

// ResolverFor returns a query.Resolver that resolves sub-queries through d
func ResolverFor(d Database) query.Resolver {
	return resolver{d: d}
}

func (r resolver) ResolveIDs(ctx context.Context, q *query.Query, limit int) ([]uuid.UUID, error) {
	result, err := r.d.ReadPartial(ctx, q.ReferenceOnly(), 0, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(result.Items))
	for i, s := range result.Items {
		ids[i] = s.ID()
	}
	return ids, nil
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// Paginate iterates over all records of q by reading pages of fetchSize records
// through ReadPartial. Databases without a native cursor use it for ReadIterable.
func Paginate(ctx context.Context, d Database, q *query.Query, fetchSize int) iter.Seq2[*state.State, error] {
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	return func(yield func(*state.State, error) bool) {
		var offset int64
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			result, err := d.ReadPartial(ctx, q, offset, fetchSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, s := range result.Items {
				if !yield(s, nil) {
					return
				}
			}
			if len(result.Items) < fetchSize || !result.HasNext() {
				return
			}
			offset = result.NextOffset()
		}
	}
}

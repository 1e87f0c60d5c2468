package db

import (
	"context"

	"github.com/ValentinKolb/dPersist/lib/state"
)

// ApplyFunc applies a batch of writes
type ApplyFunc func(ctx context.Context, writes []Write, eventually bool) error

// WriteBuffer implements the write lifecycle of Database (begin, commit, end and
// the single write operations) on top of an ApplyFunc. Databases embed it and
// only provide the function that applies a finished batch.
type WriteBuffer struct {
	apply ApplyFunc
}

// NewWriteBuffer creates a write buffer that hands finished batches to apply
func NewWriteBuffer(apply ApplyFunc) *WriteBuffer {
	return &WriteBuffer{apply: apply}
}

// batchKey is the context key of the open batch of one buffer
type batchKey struct {
	buffer *WriteBuffer
}

type batch struct {
	depth  int
	writes []Write
}

func (b *WriteBuffer) batch(ctx context.Context) *batch {
	p, _ := ctx.Value(batchKey{b}).(*batch)
	return p
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (b *WriteBuffer) BeginWrites(ctx context.Context) (context.Context, error) {
	if p := b.batch(ctx); p != nil {
		p.depth++
		return ctx, nil
	}
	return context.WithValue(ctx, batchKey{b}, &batch{depth: 1}), nil
}

func (b *WriteBuffer) BeginIsolatedWrites(ctx context.Context) (context.Context, error) {
	return context.WithValue(ctx, batchKey{b}, &batch{depth: 1}), nil
}

func (b *WriteBuffer) CommitWrites(ctx context.Context) error {
	return b.commit(ctx, false)
}

func (b *WriteBuffer) CommitWritesEventually(ctx context.Context) error {
	return b.commit(ctx, true)
}

func (b *WriteBuffer) commit(ctx context.Context, eventually bool) error {
	p := b.batch(ctx)
	if p == nil || p.depth != 1 || len(p.writes) == 0 {
		return nil
	}
	writes := p.writes
	p.writes = nil
	return b.apply(ctx, writes, eventually)
}

func (b *WriteBuffer) EndWrites(ctx context.Context) error {
	p := b.batch(ctx)
	if p == nil || p.depth == 0 {
		return nil
	}
	p.depth--
	if p.depth == 0 {
		if len(p.writes) > 0 {
			log.Debugf("discarding %d uncommitted writes", len(p.writes))
		}
		p.writes = nil
	}
	return nil
}

// Pending returns the number of buffered writes in the batch open in ctx
func (b *WriteBuffer) Pending(ctx context.Context) int {
	if p := b.batch(ctx); p != nil {
		return len(p.writes)
	}
	return 0
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Write buffers w if a batch is open in ctx, otherwise applies it right away
func (b *WriteBuffer) Write(ctx context.Context, w Write) error {
	if p := b.batch(ctx); p != nil && p.depth > 0 {
		p.writes = append(p.writes, w)
		return nil
	}
	return b.apply(ctx, []Write{w}, false)
}

func (b *WriteBuffer) SaveUnsafely(ctx context.Context, s *state.State) error {
	return b.Write(ctx, Write{Operation: OpSaveUnsafely, State: s})
}

func (b *WriteBuffer) Index(ctx context.Context, s *state.State) error {
	return b.Write(ctx, Write{Operation: OpIndex, State: s})
}

func (b *WriteBuffer) Delete(ctx context.Context, s *state.State) error {
	return b.Write(ctx, Write{Operation: OpDelete, State: s})
}

func (b *WriteBuffer) Recalculate(ctx context.Context, s *state.State, fields ...string) error {
	return b.Write(ctx, Write{Operation: OpIndex, State: s, Fields: fields})
}

package async

import (
	"context"
	mrand "math/rand/v2"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/rcrowley/go-metrics"
)

const (
	DefaultCommitSize       = 100
	DefaultCommitSizeJitter = 0.2
)

// WriterOptions configures a Writer
type WriterOptions struct {
	// Operation is applied to every record (default db.OpSave)
	Operation db.WriteOperation
	// CommitSize is the number of records per batch (default 100)
	CommitSize int
	// CommitSizeJitter scales the commit size of every batch by a random factor
	// in [1-jitter, 1+jitter]. 0 uses the default 0.2, a negative value disables
	// the jitter.
	CommitSizeJitter float64
	// MaximumDataLength commits early once the encoded size of the buffered
	// records exceeds it (0 disables the limit)
	MaximumDataLength int
	// CommitEventually commits with CommitWritesEventually
	CommitEventually bool
	// OnError is called for every record that could not be written. Returning an
	// error stops the writer. The default logs the failure and continues.
	OnError func(ctx context.Context, s *state.State, err error) error
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.CommitSize <= 0 {
		o.CommitSize = DefaultCommitSize
	}
	if o.CommitSizeJitter == 0 {
		o.CommitSizeJitter = DefaultCommitSizeJitter
	}
	if o.OnError == nil {
		o.OnError = func(_ context.Context, s *state.State, err error) error {
			log.Warningf("failed to %s %s: %v", o.Operation, s, err)
			return nil
		}
	}
	return o
}

// Writer consumes records from a queue and writes them in batches
type Writer struct {
	database db.Database
	input    *Queue[*state.State]
	opts     WriterOptions
	rand     *mrand.Rand

	pending        []*state.State
	dataLength     int
	nextCommitSize int
	last           *state.State
	lastFailed     bool // last already went to OnError

	commits   metrics.Counter
	fallbacks metrics.Counter
	failures  metrics.Counter
}

// NewWriter creates a writer that drains input into database
func NewWriter(database db.Database, input *Queue[*state.State], opts WriterOptions) *Writer {
	return &Writer{
		database:  database,
		input:     input,
		opts:      opts.withDefaults(),
		rand:      util.NewRand(),
		commits:   metrics.NewCounter(),
		fallbacks: metrics.NewCounter(),
		failures:  metrics.NewCounter(),
	}
}

// Run consumes the queue until it is closed and drained
func (w *Writer) Run(ctx context.Context) error {
	return NewConsumer[*state.State](w.input, w).Run(ctx)
}

func (w *Writer) calculateNextCommitSize() {
	w.nextCommitSize = int(util.Jitter(w.rand, float64(w.opts.CommitSize), w.opts.CommitSizeJitter))
	if w.nextCommitSize < 1 {
		w.nextCommitSize = 1
	}
}

// commit writes all buffered records in one batch. If the batch fails, every
// record is retried in its own batch.
func (w *Writer) commit(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	states := w.pending
	w.pending = nil
	w.dataLength = 0

	err := db.InBatch(ctx, w.database, w.opts.CommitEventually, func(ctx context.Context) error {
		for _, s := range states {
			if err := w.opts.Operation.Execute(ctx, w.database, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		w.commits.Inc(1)
		return nil
	}

	log.Warningf("committing %d records failed, retrying one by one: %v", len(states), err)
	for _, s := range states {
		w.fallbacks.Inc(1)
		err := db.InBatch(ctx, w.database, w.opts.CommitEventually, func(ctx context.Context) error {
			return w.opts.Operation.Execute(ctx, w.database, s)
		})
		if err == nil {
			continue
		}
		w.failures.Inc(1)
		if s == w.last {
			w.lastFailed = true
		}
		if err := w.opts.OnError(ctx, s, err); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Handler Interface Methods
// --------------------------------------------------------------------------

func (w *Writer) BeforeStart(context.Context) error {
	w.calculateNextCommitSize()
	return nil
}

func (w *Writer) Consume(ctx context.Context, s *state.State) error {
	w.last = s
	w.lastFailed = false
	w.pending = append(w.pending, s)
	if w.opts.MaximumDataLength > 0 {
		w.dataLength += s.DataLength()
	}

	if len(w.pending) >= w.nextCommitSize ||
		(w.opts.MaximumDataLength > 0 && w.dataLength > w.opts.MaximumDataLength) {
		w.calculateNextCommitSize()
		return w.commit(ctx)
	}
	return nil
}

// HandleError stops the writer, Consume only fails if OnError failed
func (w *Writer) HandleError(_ context.Context, _ *state.State, err error) error {
	return err
}

// Finished commits the remaining records and writes the last record once more
// in its own batch, so its write is complete when Run returns. A failure of
// that write goes to OnError like any other record.
func (w *Writer) Finished(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := w.commit(ctx); err != nil {
		return err
	}
	if w.last == nil || w.lastFailed {
		return nil
	}
	err := db.Immediately(ctx, w.database, func(ctx context.Context) error {
		return w.opts.Operation.Execute(ctx, w.database, w.last)
	})
	if err == nil {
		return nil
	}
	w.failures.Inc(1)
	return w.opts.OnError(ctx, w.last, err)
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// WriterStats is a snapshot of the writer counters
type WriterStats struct {
	Commits   int64 // Successful batch commits
	Fallbacks int64 // Records retried on their own
	Failures  int64 // Records passed to OnError
}

// Stats returns the current counters
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Commits:   w.commits.Count(),
		Fallbacks: w.fallbacks.Count(),
		Failures:  w.failures.Count(),
	}
}

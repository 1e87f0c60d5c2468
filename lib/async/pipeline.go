package async

import (
	"context"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"golang.org/x/sync/errgroup"
)

// RunWriters runs n writers created by factory on the same queue and waits for
// all of them. The first failing writer cancels the others.
func RunWriters(ctx context.Context, n int, factory func(i int) *Writer) ([]*Writer, error) {
	if n < 1 {
		n = 1
	}
	writers := make([]*Writer, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := range writers {
		writers[i] = factory(i)
		w := writers[i]
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return writers, g.Wait()
}

// CopyOptions configures Copy
type CopyOptions struct {
	FetchSize     int // Page size of the reader
	QueueCapacity int // Capacity of the queue between reader and writers
	Writers       int // Number of concurrent writers
	Writer        WriterOptions
}

// CopyStats summarizes a finished Copy
type CopyStats struct {
	Read    int64
	Queue   QueueStats
	Writers []WriterStats
}

// Copy reads all records of q from source and applies the write operation of
// opts.Writer to each of them in target. Source and target may be the same
// database, e.g. to re-save or re-index all records of a type.
func Copy(ctx context.Context, source db.Database, q *query.Query, target db.Database, opts CopyOptions) (CopyStats, error) {
	queue := NewQueue[*state.State](opts.QueueCapacity)
	reader := NewReader(source, q, opts.FetchSize, queue)
	queue.CloseAutomatically()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := reader.Run(gctx)
		if err != nil {
			queue.Close()
		}
		return err
	})

	var writers []*Writer
	g.Go(func() error {
		var err error
		writers, err = RunWriters(gctx, opts.Writers, func(int) *Writer {
			return NewWriter(target, queue, opts.Writer)
		})
		return err
	})
	err := g.Wait()

	stats := CopyStats{Read: reader.Produced(), Queue: queue.Stats()}
	for _, w := range writers {
		stats.Writers = append(stats.Writers, w.Stats())
	}
	return stats, err
}

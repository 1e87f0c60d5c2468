/*
Package async implements a batched read/write pipeline over db.Database.

A Reader streams the records of a query into a bounded Queue, any number of
Writers drain the queue and apply one write operation (save, saveUnsafely,
index or delete) to every record, committing in batches. The queue is the
only point where the stages wait for each other: a slow writer blocks the
reader instead of letting memory grow.

Key Components:

  - Queue: Bounded queue with producer bookkeeping. With CloseAutomatically the
    queue closes itself once the last producer is removed; consumers then
    drain the remaining items and stop.
  - Consumer: Runs a Handler for every item of a queue (BeforeStart, Consume,
    HandleError, Finished) and keeps statistics.
  - Reader: Producer that pages through a query result.
  - Writer: Handler that buffers records and commits them in batches. The
    batch size is jittered per batch so concurrent writers do not commit in
    lockstep. A failed batch is retried record by record, records that still
    fail are passed to WriterOptions.OnError.
  - Copy: Wires a reader, a queue and several writers.

Ordering:

Within one writer, records are committed in the order they are consumed.
Across writers sharing a queue there is no ordering, but every record is
handed to exactly one writer.

Usage Example:

	queue := async.NewQueue[*state.State](0)
	reader := async.NewReader(source, query.From("article"), 200, queue)
	queue.CloseAutomatically()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reader.Run(ctx) })
	g.Go(func() error {
	    return async.NewWriter(target, queue, async.WriterOptions{CommitSize: 100}).Run(ctx)
	})
	err := g.Wait()
*/
package async

/*
Package caching provides a database stage that caches read results for the
duration of one unit of work, e.g. one request.

A caching stage remembers the results of ReadAll, ReadCount, ReadFirst and
ReadPartial per query, and every record it has seen per id. Queries that select
records by id only are answered from the record caches as far as possible; only
the ids that are not cached are read from the next stage.

Every write through the stage flushes all caches. A caller therefore always
reads its own writes, but writes of other stages or processes are not seen
until the stage is flushed or dropped. Create one stage per unit of work
instead of sharing it process wide.

Key Components:

  - Database: The caching stage
  - Options: Maximum number of entries per cache

Thread Safety:

The stage is safe for concurrent use. Cached records are copied on the way in
and out, callers may modify what they read.

Usage Example:

	d := caching.New(backend, caching.Options{})
	first, _ := d.ReadFirst(ctx, q) // reads from backend
	again, _ := d.ReadFirst(ctx, q) // cache hit
	_ = d.Save(ctx, s)              // flushes
*/
package caching

/*
Package funnel provides a short lived refresh-ahead cache for expensive reads
that many callers issue at nearly the same time.

Every entry is produced by a Producer for one database. The first caller of a
key produces the value synchronously, concurrent callers of the same key wait
for that single produce instead of querying the database themselves. Once a
value exists it is served until it expires; after the refresh interval a
background goroutine recomputes it while callers keep getting the current value.

Key Components:

  - Cache: The sharded cache, one per database
  - Producer: Computes the objects of one key
  - Object: Lightweight snapshot of a record (id, type id, values, extras)
  - Options: Size, shard count, expiry and refresh intervals

Thread Safety:

All methods of Cache are safe for concurrent use. Objects handed out by Get are
shared between callers and must be treated as read only; use Object.State to
get a private, mutable copy.

Usage Example:

	cache := funnel.New(database, funnel.Options{})
	objects, err := cache.Get(ctx, funnel.ProducerFunc[db.Database]{
	    ID: "active-users",
	    Fn: func(ctx context.Context, d db.Database) ([]funnel.Object, error) {
	        states, err := d.ReadAll(ctx, query.From("user").Where(query.Eq("active", true)))
	        return funnel.FromStates(states), err
	    },
	})
*/
package funnel

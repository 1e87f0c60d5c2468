// Package lock implements a distributed lock on top of any db.Database.
//
// The coordination state of a lock is a single record of type "lock" whose id
// is derived from the lock key. It stores the id of the lock instance that
// currently holds it and the time of the last ping. The lock itself keeps no
// state except the holder within this process; it is therefore safe to create
// locks for the same key in many processes, as long as they share the database.
//
// Implementation Approach:
//
//   - Lock Acquisition: The record is read bypassing all caches. If it does not
//     exist or its last ping is older than the timeout (the holder is presumed
//     dead), the lock is claimed by replacing lockId and lastPing atomically
//     against the values just read. If another instance won the race the
//     replacement fails and the attempt returns false.
//
//   - Holders: Within a process a lock is held by a Holder carried in the
//     context (WithHolder). Contexts without a holder share the process wide
//     default holder. Locks are not reentrant.
//
//     Goroutines that may contend for the same lock must each carry their own
//     holder. Two callers on the default holder count as the same owner, so the
//     second one gets ErrReentrant instead of waiting:
//
//     ctx = lock.WithHolder(ctx, lock.NewHolder())
//
//   - Safe Release: Unlock deletes the record only if it still carries the id
//     of this instance, a lock stolen after a timeout is left alone.
//
//   - Keep Alive: Holders of long running critical sections call Ping to
//     refresh the last ping before the timeout elapses.
//
// Thread Safety:
//
//	Locks are safe for concurrent use. The Registry hands out one shared Lock
//	per database and key so concurrent users agree on the local holder.
//
// Usage Example:
//
//	l := lock.Get(database, "reports:nightly")
//	defer lock.Release(l)
//
//	ok, err := l.TryLock(ctx)
//	if err != nil || !ok {
//	    return err
//	}
//	defer l.Unlock(ctx)
package lock

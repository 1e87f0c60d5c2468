// Package state provides the mutable record representation (State) and the
// atomic field operations that the databases apply on top of stored rows.
//
// A State holds an id, a type name and a map of field values addressed by
// dotted paths ("author.name"). Besides plain Put calls, fields can be changed
// through atomic operations (Increment, Add, Remove, Put, Replace). An atomic
// operation is executed on the local State right away and is also queued on it;
// when the State is saved, the database re-executes the queued operations against
// the row it has stored, inside the same atomic write. Replace is the
// compare-and-swap primitive: if the stored value no longer equals the expected
// old value the save fails with a *ReplacementError and nothing is written.
//
// Thread Safety:
//
//	A State is not safe for concurrent modification. Concurrent writers in
//	different goroutines or processes must coordinate through Replace or through
//	a lock.DistributedLock.
package state

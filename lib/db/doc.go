// Package db defines the Database contract every storage backend and every
// stage of a database chain implements, together with the building blocks to
// assemble such chains.
//
// A Database reads records (state.State) selected by queries (query.Query) and
// writes them either immediately or in batches. Stages wrap a Database in
// another Database to add one concern, e.g. caching or profiling, without the
// caller noticing:
//
//	backend := db.NewDatabase(memory.New())
//	d := db.Chain(backend, caching.Stage(caching.Options{}), profiling.Stage(nil))
//
// Key Components:
//
//   - Database Interface: Reads (ReadAll, ReadCount, ReadFirst, ReadPartial, the
//     grouped variants, ReadIterable and ReadLastUpdate), the write lifecycle
//     (BeginWrites, CommitWrites, CommitWritesEventually, EndWrites) and the
//     write operations (Save, SaveUnsafely, Index, Delete, DeleteByQuery,
//     Recalculate).
//
//   - Engine Interface: The minimal contract of a concrete backend (select rows,
//     apply a batch of writes atomically). NewDatabase lifts an Engine to a full
//     Database and takes care of sub-query resolution, paging, grouping,
//     iteration, update notifiers and the optional funnel cache.
//
//   - Forwarding: A stage that delegates every call. Other stages embed it and
//     override what they change; QueryFilter and StateFilter rewrite queries and
//     records on their way through.
//
//   - WriteBuffer: The batch bookkeeping shared by all databases. A batch lives
//     in the context returned by BeginWrites; nested batches join the outer
//     one and only the outermost commit applies it.
//
//   - WriteOperation: The write operations (save, saveUnsafely, index, delete)
//     as a value, used by pipelines that apply one operation to many records.
//
//   - Errors: *Error carries a RetCode and the failing database; unsupported
//     predicates and sorters have their own types.
//
// Thread Safety:
//
// All Database implementations of this package and its sub-packages are safe for
// concurrent use. A context carrying an open batch belongs to one goroutine;
// writes buffered in it must not be issued concurrently.
//
// Atomic Writes:
//
// Atomic field operations queued on a state (see state.State.ReplaceAtomically
// and friends) are merged with the stored row inside the engine's atomic
// apply. A failed compare-and-swap aborts the whole batch with an error that
// IsReplacementFailure recognizes.
//
// Related Packages:
//
//   - engines/memory, engines/bolt, engines/raft: Engine implementations
//   - caching, profiling: Database stages
//   - funnel: The refresh-ahead cache used by NewDatabase
//   - testing: A conformance suite every Database implementation must pass
package db

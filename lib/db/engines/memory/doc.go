/*
Package memory implements a db.Engine that keeps all records in process memory.

Rows are held in a single map guarded by a read-write mutex, so a batch passed
to Apply is applied atomically: either all writes of the batch become visible
or none. Reads work on copies of the rows.

The engine is used directly for tests and single process deployments and, via
Select, ApplyWrites and the snapshot functions, as the state of the raft engine.

Key Features:
  - Atomic batches including the merge of atomic field operations
  - Injectable clock (Options.Clock), used by tests of time based logic such
    as lock timeouts
  - Snapshots in a compact binary format (Save/Load)

Usage Example:

	database := memory.NewDatabase(memory.Options{})
	err := database.Save(ctx, s)
*/
package memory

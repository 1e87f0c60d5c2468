/*
Package bolt implements a persistent db.Engine on top of bbolt.

Every record type gets its own nested bucket below the rows bucket, the record
is stored as JSON under its 16 byte id. A second bucket maps ids to type names
so reads by id and type changes of an id never scan.

Apply runs the whole batch in one read-write transaction, atomic operations
are merged inside it. Eventual commits go through bbolt's Batch, which
coalesces concurrent batches into fewer disk syncs.

Usage Example:

	database, err := bolt.NewDatabase(bolt.Options{Path: "data/app.db"})
	if err != nil {
	    return err
	}
	defer database.Close()
*/
package bolt

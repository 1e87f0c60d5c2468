// Package testing provides standardised tests and benchmarks for
// implementations of the db.Database interface.
//
// The package contains:
//   - testing: A conformance suite covering reads, paging, grouping, write
//     batches, atomic operations and update notifiers
//   - benchmark: Performance tests for the common read and write paths
//
// Every backend and every stage must pass the suite. Values are compared after
// normalizing numbers and ids, so backends that encode records (e.g. as JSON)
// pass as well.
//
// Example usage:
//
//	factory := func() db.Database {
//		return memory.NewDatabase(memory.Options{})
//	}
//
//	// Running the standard test suite
//	dbtesting.RunDatabaseTests(t, "Memory", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunDatabaseBenchmarks(b, "Memory", factory)
package testing

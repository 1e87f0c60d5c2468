// Package profiling provides a database stage that times every call and
// attributes it to the code that issued it.
//
// Each call produces an Event with the duration, the error (if any), the query
// and the caller: the first stack frame outside of the database, query and
// state packages. Events go to a Recorder; the default MetricsRecorder keeps
// VictoriaMetrics histograms that are served by the rpc server on /metrics.
//
// Reads of queries flagged with query.Resolving (lazy reference resolution) are
// recorded in the category "Resolving Fields" so they can be told apart from
// the reads the caller issued directly.
//
// Usage Example:
//
//	d := db.Chain(backend, caching.Stage(caching.Options{}), profiling.Stage(nil))
package profiling

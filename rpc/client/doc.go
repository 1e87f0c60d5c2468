// Package client implements the client side of a database hosted by an RPC
// server. The returned Database implements db.Database, so it can be wrapped
// in stages, used by locks and fed into the async pipeline like any local
// database.
//
// Writes are buffered locally and sent as one Apply request per commit. The
// server applies the batch atomically and answers with the stored states, the
// client copies their values back into the written states. Transport failures
// are reported as recoverable database errors.
//
// Usage Example:
//
//	d, err := client.NewRPCDatabase(
//		"main",
//		common.ClientConfig{Endpoints: []string{"http://localhost:8080"}, TimeoutSecond: 5, RetryCount: 2},
//		http.NewHttpClientTransport(),
//		serializer.NewJSONSerializer(),
//	)
//	if err != nil {
//		return err
//	}
//	defer d.Close()
//
//	count, err := d.ReadCount(ctx, query.From("user"))
package client

// Package server implements the RPC server. A server hosts any number of named
// databases, each backed by one of the engines (memory, bolt or raft) and
// wrapped in the configured stages:
//
//	profiling -> caching (optional) -> engine database (optional funnel cache)
//
// Incoming requests are decoded with the configured serializer and dispatched
// by an IRPCServerAdapter to the addressed database. Apply requests are
// executed as one batch, so a failed atomic replacement rejects the whole
// batch.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Databases: []common.DatabaseConfig{
//			{Name: "main", Type: common.DatabaseTypeMemory},
//			{Name: "archive", Type: common.DatabaseTypeBolt, Path: "data/archive.db"},
//		},
//		Endpoint: ":8080",
//		LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
//	if err := s.Serve(); err != nil {
//		log.Fatal(err)
//	}
package server

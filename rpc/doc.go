// Package rpc makes databases available over the network.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, the client and server configuration and
//     the zap backed logger factory.
//
//   - transport: the transport abstraction and its HTTP implementation.
//
//   - serializer: Message serialization (JSON, GOB).
//
//   - client: a db.Database that forwards every call to a remote database.
//
//   - server: hosts named databases and dispatches requests to them.
package rpc

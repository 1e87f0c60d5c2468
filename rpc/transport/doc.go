// Package transport defines the contract between the rpc client and server
// and the wire that carries serialized messages between them.
//
// Requests are addressed to a named database hosted by the server. The
// transport only moves bytes, serialization happens in the rpc/serializer
// package.
//
// Key Components:
//
//   - IRPCClientTransport: sends a request to one of the configured endpoints
//     and returns the raw response.
//
//   - IRPCServerTransport: receives requests and hands them to the registered
//     ServerHandleFunc.
package transport

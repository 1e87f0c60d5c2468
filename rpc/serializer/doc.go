// Package serializer provides message serialization for the RPC layer of the
// remote database. It defines a common interface and two implementations for
// serializing and deserializing messages between client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: JSON encoding. Human-readable and the default, states
//     and queries use their JSON form.
//
//   - gobSerializerImpl: Go's gob encoding. States and queries embed their JSON
//     form as gob bytes (GobEncoder), the envelope is binary.
//
// Both sides of a connection must use the same serializer.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	serializer := serializer.NewJSONSerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer

package transport

import (
	"context"

	"github.com/ValentinKolb/dPersist/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is called by a server transport when a request is received.
// It takes the name of the addressed database and the serialized request and
// returns the serialized response.
type ServerHandleFunc func(ctx context.Context, database string, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks until it is shut down
	Listen(config common.ServerConfig) error
	// Shutdown stops a running transport
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for a database to the server and returns the response
	Send(ctx context.Context, database string, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}

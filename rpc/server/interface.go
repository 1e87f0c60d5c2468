package server

import (
	"context"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request against a database and returns a response.
	// If an error occurs, it is set in the response.
	Handle(ctx context.Context, req *common.Message, d db.Database) (resp *common.Message)
}

package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	database   string
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request and returns the response.
// Failures of the transport are reported as recoverable database errors,
// errors of the remote database keep their code. writes are the writes of an
// apply request, they are referenced by failed replacements.
// This method also checks if the type of the response is the expected type
func (a *rpcClientAdapter) invoke(ctx context.Context, d db.Database, req *common.Message, writes []db.Write) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, db.NewError(d, db.RetCInternalError, "failed to serialize request", err)
	}

	// Send the request
	respBytes, err := a.transport.Send(ctx, a.database, reqBytes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, db.NewError(d, db.RetCRecoverable, fmt.Sprintf("%s request failed", req.MsgType), err)
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, db.NewError(d, db.RetCInternalError, "failed to deserialize response", err)
	}

	// Check if the response is an error response
	if err := resp.Error(d, writes); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, db.NewError(d, db.RetCInternalError,
			fmt.Sprintf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType), nil)
	}

	return resp, nil
}

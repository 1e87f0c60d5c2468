package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/rpc/common"
)

func NewDatabaseServerAdapter() IRPCServerAdapter {
	return &databaseServerAdapterImpl{}
}

type databaseServerAdapterImpl struct{}

func (adapter *databaseServerAdapterImpl) Handle(ctx context.Context, req *common.Message, d db.Database) *common.Message {
	// Check for nil database
	if d == nil {
		return common.NewErrorResponse("handler: database is nil")
	}

	if req.Primary {
		ctx = db.WithPrimaryRead(ctx)
	}

	switch req.MsgType {
	case common.MsgTReadAll:
		states, err := d.ReadAll(ctx, req.Query)
		resp := common.NewResponse(req.MsgType, err)
		resp.States = states
		return resp
	case common.MsgTReadAllGrouped:
		groups, err := d.ReadAllGrouped(ctx, req.Query, req.Fields...)
		resp := common.NewResponse(req.MsgType, err)
		resp.Groups = groups
		return resp
	case common.MsgTReadCount:
		count, err := d.ReadCount(ctx, req.Query)
		resp := common.NewResponse(req.MsgType, err)
		resp.Count = count
		return resp
	case common.MsgTReadFirst:
		s, err := d.ReadFirst(ctx, req.Query)
		resp := common.NewResponse(req.MsgType, err)
		if s != nil {
			resp.States = []*state.State{s}
		}
		return resp
	case common.MsgTReadLastUpdate:
		t, err := d.ReadLastUpdate(ctx, req.Query)
		resp := common.NewResponse(req.MsgType, err)
		resp.Time = common.UnixMilli(t)
		return resp
	case common.MsgTReadPartial:
		page, err := d.ReadPartial(ctx, req.Query, req.Offset, req.Limit)
		resp := common.NewResponse(req.MsgType, err)
		if page != nil {
			resp.States = page.Items
			resp.Count = page.Count
		}
		return resp
	case common.MsgTReadPartialGrouped:
		page, err := d.ReadPartialGrouped(ctx, req.Query, req.Offset, req.Limit, req.Fields...)
		resp := common.NewResponse(req.MsgType, err)
		if page != nil {
			resp.Groups = page.Items
			resp.Count = page.Count
		}
		return resp
	case common.MsgTApply:
		return adapter.apply(ctx, req, d)
	case common.MsgTDeleteByQuery:
		return common.NewResponse(req.MsgType, d.DeleteByQuery(ctx, req.Query))
	case common.MsgTNow:
		resp := common.NewResponse(req.MsgType, nil)
		resp.Time = d.Now().UnixMilli()
		return resp
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC DatabaseAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// apply runs the writes of req as one batch. The response carries the states
// as they were written, including the results of their atomic operations.
func (adapter *databaseServerAdapterImpl) apply(ctx context.Context, req *common.Message, d db.Database) *common.Message {
	states := make([]*state.State, 0, len(req.Writes))
	err := db.InBatch(ctx, d, req.Eventually, func(ctx context.Context) error {
		for _, w := range req.Writes {
			if w.State == nil {
				return fmt.Errorf("write without state")
			}
			var err error
			if len(w.Fields) > 0 {
				err = d.Recalculate(ctx, w.State, w.Fields...)
			} else {
				err = w.Operation.Execute(ctx, d, w.State)
			}
			if err != nil {
				return err
			}
			states = append(states, w.State)
		}
		return nil
	})

	resp := common.NewResponse(common.MsgTApply, err)
	if err == nil {
		resp.States = states
	}
	return resp
}

package client

import (
	"context"
	"iter"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// NewRPCDatabase creates a database that forwards all calls to a database
// hosted by an RPC server.
// The function takes the name of the remote database, a config, a transport
// and a serializer as parameters.
func NewRPCDatabase(
	database string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Database, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	d := &Database{
		rpcClientAdapter: rpcClientAdapter{
			database:   database,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		notifiers: xsync.NewMapOf[db.UpdateNotifier, struct{}](),
	}
	d.WriteBuffer = db.NewWriteBuffer(d.apply)
	return d, nil
}

// Database is the client side of a remote database. Writes are buffered
// locally and sent as one request per commit.
type Database struct {
	rpcClientAdapter
	*db.WriteBuffer
	notifiers *xsync.MapOf[db.UpdateNotifier, struct{}]
}

var _ db.Database = (*Database)(nil)

// Close closes the transport
func (d *Database) Close() error {
	return d.transport.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Database)
// --------------------------------------------------------------------------

func (d *Database) Name() string {
	return "rpc:" + d.database
}

func (d *Database) ReadAll(ctx context.Context, q *query.Query) ([]*state.State, error) {
	resp, err := d.invoke(ctx, d, common.NewReadRequest(common.MsgTReadAll, q, db.IsPrimaryRead(ctx)), nil)
	if err != nil {
		return nil, err
	}
	return resp.States, nil
}

func (d *Database) ReadAllGrouped(ctx context.Context, q *query.Query, fields ...string) ([]*db.Grouping, error) {
	resp, err := d.invoke(ctx, d, common.NewReadGroupedRequest(q, db.IsPrimaryRead(ctx), fields), nil)
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

func (d *Database) ReadCount(ctx context.Context, q *query.Query) (int64, error) {
	resp, err := d.invoke(ctx, d, common.NewReadRequest(common.MsgTReadCount, q, db.IsPrimaryRead(ctx)), nil)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (d *Database) ReadFirst(ctx context.Context, q *query.Query) (*state.State, error) {
	resp, err := d.invoke(ctx, d, common.NewReadRequest(common.MsgTReadFirst, q, db.IsPrimaryRead(ctx)), nil)
	if err != nil || len(resp.States) == 0 {
		return nil, err
	}
	return resp.States[0], nil
}

func (d *Database) ReadIterable(ctx context.Context, q *query.Query, fetchSize int) iter.Seq2[*state.State, error] {
	return db.Paginate(ctx, d, q, fetchSize)
}

func (d *Database) ReadLastUpdate(ctx context.Context, q *query.Query) (time.Time, error) {
	resp, err := d.invoke(ctx, d, common.NewReadRequest(common.MsgTReadLastUpdate, q, db.IsPrimaryRead(ctx)), nil)
	if err != nil {
		return time.Time{}, err
	}
	return common.FromUnixMilli(resp.Time), nil
}

func (d *Database) ReadPartial(ctx context.Context, q *query.Query, offset int64, limit int) (*db.PaginatedResult[*state.State], error) {
	resp, err := d.invoke(ctx, d, common.NewReadPartialRequest(q, db.IsPrimaryRead(ctx), offset, limit), nil)
	if err != nil {
		return nil, err
	}
	return &db.PaginatedResult[*state.State]{Offset: offset, Limit: limit, Count: resp.Count, Items: resp.States}, nil
}

func (d *Database) ReadPartialGrouped(ctx context.Context, q *query.Query, offset int64, limit int, fields ...string) (*db.PaginatedResult[*db.Grouping], error) {
	resp, err := d.invoke(ctx, d, common.NewReadPartialGroupedRequest(q, db.IsPrimaryRead(ctx), offset, limit, fields), nil)
	if err != nil {
		return nil, err
	}
	return &db.PaginatedResult[*db.Grouping]{Offset: offset, Limit: limit, Count: resp.Count, Items: resp.Groups}, nil
}

func (d *Database) Save(ctx context.Context, s *state.State) error {
	if s.HasErrors() {
		return db.NewError(d, db.RetCValidation, "refusing to save "+s.String()+" with validation errors", nil)
	}
	return d.Write(ctx, db.Write{Operation: db.OpSave, State: s})
}

func (d *Database) DeleteByQuery(ctx context.Context, q *query.Query) error {
	_, err := d.invoke(ctx, d, common.NewDeleteByQueryRequest(q), nil)
	return err
}

// Now asks the server for its clock. If the server can not be reached the
// local clock is used.
func (d *Database) Now() time.Time {
	resp, err := d.invoke(context.Background(), d, common.NewNowRequest(), nil)
	if err != nil {
		Logger.Warningf("failed to read the clock of %s, using the local clock: %v", d.Name(), err)
		return time.Now()
	}
	return time.UnixMilli(resp.Time)
}

func (d *Database) AddUpdateNotifier(n db.UpdateNotifier) {
	d.notifiers.Store(n, struct{}{})
}

func (d *Database) RemoveUpdateNotifier(n db.UpdateNotifier) {
	d.notifiers.Delete(n)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// apply sends a finished batch to the server. The written states are updated
// with the values the server stored.
func (d *Database) apply(ctx context.Context, writes []db.Write, eventually bool) error {
	resp, err := d.invoke(ctx, d, common.NewApplyRequest(writes, eventually), writes)
	if err != nil {
		return err
	}

	for i, w := range writes {
		if i < len(resp.States) && resp.States[i] != nil {
			w.State.SetLastUpdate(resp.States[i].LastUpdate())
			if w.Operation == db.OpSave || w.Operation == db.OpSaveUnsafely {
				w.State.SetValues(resp.States[i].Values())
			}
		}
		if w.Operation != db.OpSave && w.Operation != db.OpSaveUnsafely {
			continue
		}
		w.State.ClearAtomicOperations()
		d.notifiers.Range(func(n db.UpdateNotifier, _ struct{}) bool {
			n.OnUpdate(ctx, w.State)
			return true
		})
	}
	return nil
}

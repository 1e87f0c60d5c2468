package raft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/raft/internal"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries = 5
	log     = logger.GetLogger("raftdb-engine")
)

// Options configures the raft engine
type Options struct {
	Name    string           // Name reported by the database (default "raft-<shard>")
	Timeout time.Duration    // Timeout of a single proposal or read (default 5s)
	Clock   func() time.Time // Clock used to stamp writes (default time.Now)
}

// Engine replicates all writes through a raft shard of a dragonboat NodeHost.
// The shard must run the StateMachine created by CreateStateMachineFactory.
type Engine struct {
	name    string
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	clock   func() time.Time
}

// New creates an engine for a shard that is already started on nh
func New(nh *dragonboat.NodeHost, shardID uint64, opts Options) *Engine {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("raft-%d", shardID)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		name:    opts.Name,
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: opts.Timeout,
		clock:   opts.Clock,
	}
}

// NewDatabase wraps a raft engine into a database
func NewDatabase(nh *dragonboat.NodeHost, shardID uint64, opts Options, dbOpts ...db.Option) *db.EngineDatabase {
	return db.NewDatabase(New(nh, shardID, opts), dbOpts...)
}

// --------------------------------------------------------------------------
// Engine Interface Methods (docu see db.Engine)
// --------------------------------------------------------------------------

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Now() time.Time {
	return e.clock()
}

// Close does not stop the shard, the NodeHost is owned by the caller
func (e *Engine) Close() error {
	return nil
}

// Select always reads linearizable, readers see every write acknowledged
// before the read started
func (e *Engine) Select(ctx context.Context, q *query.Query) ([]*state.State, error) {
	return read[[]*state.State](ctx, e, internal.Query{Type: internal.QueryTSelect, Query: q}, false)
}

func (e *Engine) Apply(ctx context.Context, writes []db.Write, eventually bool) error {
	cmd := internal.Command{Type: internal.CommandTApply, Writes: writes}
	data, err := cmd.Serialize()
	if err != nil {
		return err
	}

	if eventually {
		return e.propose(data, writes)
	}

	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, e.timeout)
		res, err := e.nh.SyncPropose(pctx, e.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(e.timeout / 10)
			continue
		}
		if err != nil {
			return err
		}
		return handleResult(res, writes)
	}
	return db.NewError(nil, db.RetCRecoverable, "shard busy", dragonboat.ErrSystemBusy)
}

// propose hands the command to raft and returns without waiting for it to be
// applied. The outcome is only logged, the states of the caller are not touched.
func (e *Engine) propose(data []byte, writes []db.Write) error {
	rs, err := e.nh.Propose(e.cs, data, e.timeout)
	if err != nil {
		return err
	}
	go func() {
		defer rs.Release()
		r := <-rs.ResultC()
		switch {
		case r.Completed():
			if err := handleResult(r.GetResult(), nil); err != nil {
				log.Warningf("eventual write of %d records failed: %v", len(writes), err)
			}
		default:
			log.Warningf("eventual write of %d records was not applied (timeout=%v, rejected=%v, dropped=%v)",
				len(writes), r.Timeout(), r.Rejected(), r.Dropped())
		}
	}()
	return nil
}

// Len returns the number of rows of the local replica
func (e *Engine) Len(ctx context.Context) (int, error) {
	return read[int](ctx, e, internal.Query{Type: internal.QueryTLen}, true)
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// read queries the state machine and converts the response into R. With stale
// set, the local replica is read without a round trip to the leader.
func read[R any](ctx context.Context, e *Engine, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var (
			res interface{}
			err error
		)
		if stale {
			res, err = e.nh.StaleRead(e.shardID, q)
		} else {
			rctx, cancel := context.WithTimeout(ctx, e.timeout)
			res, err = e.nh.SyncRead(rctx, e.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(e.timeout / 10)
			continue
		}
		if errors.Is(err, dragonboat.ErrTimeout) {
			return zero, db.NewError(nil, db.RetCReadTimeout, "read timed out", err)
		}
		if err != nil {
			return zero, err
		}

		casted, ok := res.(R)
		if !ok {
			return zero, fmt.Errorf("unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, db.NewError(nil, db.RetCRecoverable, "shard busy", dragonboat.ErrSystemBusy)
}

// handleResult converts the result of an applied command. Saved states get
// their persisted values, failures become errors.
func handleResult(res sm.Result, writes []db.Write) error {
	outcome, err := internal.DecodeOutcome(res.Data)
	if err != nil {
		return err
	}

	code := db.RetCode(res.Value)
	if code == db.RetCReplacementFailed && outcome.Replacement != nil {
		replacement := &state.ReplacementError{
			Field:    outcome.Replacement.Field,
			OldValue: outcome.Replacement.OldValue,
			NewValue: outcome.Replacement.NewValue,
		}
		for _, w := range writes {
			if w.State.ID().String() == outcome.Replacement.ID {
				replacement.State = w.State
				break
			}
		}
		return replacement
	}
	if code != db.RetCSuccess {
		return db.NewError(nil, code, outcome.Msg, nil)
	}

	for _, w := range writes {
		if values, ok := outcome.Saved[w.State.ID().String()]; ok {
			w.State.SetValues(values)
		}
	}
	return nil
}

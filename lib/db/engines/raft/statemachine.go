package raft

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/memory"
	"github.com/ValentinKolb/dPersist/lib/db/engines/raft/internal"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/google/uuid"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine is the replicated state of a raft shard. Every replica holds all
// rows in memory and applies the committed write batches in log order.
type StateMachine struct {
	replicaID uint64
	shardID   uint64

	mu   sync.RWMutex
	rows map[uuid.UUID]*state.State
}

// NewStateMachine creates an empty state machine
func NewStateMachine(shardID, replicaID uint64) *StateMachine {
	return &StateMachine{
		replicaID: replicaID,
		shardID:   shardID,
		rows:      map[uuid.UUID]*state.State{},
	}
}

// CreateStateMachineFactory returns the factory dragonboat uses to create the
// state machine of each replica
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return NewStateMachine(shardID, replicaID)
	}
}

// Lookup handles read-only queries
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, db.NewError(nil, db.RetCInternalError, fmt.Sprintf("invalid query type: %T", itf), nil)
	}

	fsm.mu.RLock()
	defer fsm.mu.RUnlock()

	switch q.Type {
	case internal.QueryTSelect:
		return memory.Select(q.Query, func(yield func(*state.State) bool) {
			for _, s := range fsm.rows {
				if !yield(s) {
					return
				}
			}
		})
	case internal.QueryTLen:
		return len(fsm.rows), nil
	default:
		return nil, db.NewError(nil, db.RetCInvalidOperation, fmt.Sprintf("unknown query operation: %s", q.Type), nil)
	}
}

// Update applies committed write batches. A failing batch leaves the rows
// unchanged, the failure is reported in the entry result.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *StateMachine) apply(data []byte) sm.Result {
	if len(data) == 0 {
		return failure(db.RetCInvalidOperation, internal.Outcome{Msg: "empty command ignored"})
	}

	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return failure(db.RetCInternalError, internal.Outcome{Msg: fmt.Sprintf("failed to deserialize command: %v", err)})
	}
	if cmd.Type != internal.CommandTApply {
		return failure(db.RetCInvalidOperation, internal.Outcome{Msg: fmt.Sprintf("unknown command operation: %s", cmd.Type)})
	}

	if err := memory.ApplyWrites(fsm.rows, cmd.Writes); err != nil {
		var replacement *state.ReplacementError
		if errors.As(err, &replacement) {
			return failure(db.RetCReplacementFailed, internal.Outcome{
				Msg: err.Error(),
				Replacement: &internal.Replacement{
					ID:       replacement.State.ID().String(),
					Field:    replacement.Field,
					OldValue: replacement.OldValue,
					NewValue: replacement.NewValue,
				},
			})
		}
		return failure(db.RetCInvalidOperation, internal.Outcome{Msg: err.Error()})
	}

	outcome := internal.Outcome{Saved: map[string]map[string]any{}}
	for _, w := range cmd.Writes {
		if w.Operation == db.OpSave || w.Operation == db.OpSaveUnsafely {
			if row := fsm.rows[w.State.ID()]; row != nil {
				outcome.Saved[w.State.ID().String()] = row.Values()
			}
		}
	}
	return sm.Result{Value: uint64(db.RetCSuccess), Data: outcome.Encode()}
}

func failure(code db.RetCode, outcome internal.Outcome) sm.Result {
	return sm.Result{Value: uint64(code), Data: outcome.Encode()}
}

// PrepareSnapshot copies the row set, the copy is written by SaveSnapshot
// while updates continue
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()

	rows := make([]*state.State, 0, len(fsm.rows))
	for _, s := range fsm.rows {
		rows = append(rows, s)
	}
	return rows, nil
}

// SaveSnapshot writes the rows captured by PrepareSnapshot
func (fsm *StateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	rows, ok := ctx.([]*state.State)
	if !ok {
		return fmt.Errorf("invalid snapshot context: %T", ctx)
	}
	return memory.WriteSnapshot(writer, rows)
}

// RecoverFromSnapshot replaces all rows by the snapshot
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	rows, err := memory.ReadSnapshot(r)
	if err != nil {
		return err
	}

	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	fsm.rows = make(map[uuid.UUID]*state.State, len(rows))
	for _, s := range rows {
		fsm.rows[s.ID()] = s
	}
	return nil
}

// Close performs any necessary cleanup.
func (fsm *StateMachine) Close() error {
	return nil
}

package raft

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/raft/internal"
	dbtesting "github.com/ValentinKolb/dPersist/lib/db/testing"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// State machine
// --------------------------------------------------------------------------

func entry(t *testing.T, index uint64, writes ...db.Write) sm.Entry {
	cmd := internal.Command{Type: internal.CommandTApply, Writes: writes}
	data, err := cmd.Serialize()
	require.NoError(t, err)
	return sm.Entry{Index: index, Cmd: data}
}

func save(s *state.State) db.Write {
	return db.Write{Operation: db.OpSave, State: s}
}

func selectAll(t *testing.T, fsm *StateMachine, q *query.Query) []*state.State {
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTSelect, Query: q})
	require.NoError(t, err)
	return res.([]*state.State)
}

func TestStateMachineUpdate(t *testing.T) {
	fsm := NewStateMachine(1, 1)

	a := state.New("item")
	a.Put("count", 1)
	b := state.New("item")
	b.IncrementAtomically("count", 5)

	entries, err := fsm.Update([]sm.Entry{entry(t, 1, save(a), save(b))})
	require.NoError(t, err)
	require.Equal(t, uint64(db.RetCSuccess), entries[0].Result.Value)

	outcome, err := internal.DecodeOutcome(entries[0].Result.Data)
	require.NoError(t, err)
	assert.EqualValues(t, 5, outcome.Saved[b.ID().String()]["count"])

	assert.Len(t, selectAll(t, fsm, query.From("item")), 2)
	n, err := fsm.Lookup(internal.Query{Type: internal.QueryTLen})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStateMachineReplacementFailure(t *testing.T) {
	fsm := NewStateMachine(1, 1)

	row := state.New("lock")
	row.Put("owner", "a")
	_, err := fsm.Update([]sm.Entry{entry(t, 1, save(row))})
	require.NoError(t, err)

	fresh := state.New("lock")
	stale := state.NewWithID("lock", row.ID())
	stale.ReplaceAtomically("owner", "b") // expects nil, stored is "a"

	entries, err := fsm.Update([]sm.Entry{entry(t, 2, save(fresh), save(stale))})
	require.NoError(t, err)
	assert.Equal(t, uint64(db.RetCReplacementFailed), entries[0].Result.Value)

	// the whole batch was rejected
	assert.Len(t, selectAll(t, fsm, query.From("lock")), 1)

	err = handleResult(entries[0].Result, []db.Write{save(fresh), save(stale)})
	var replacement *state.ReplacementError
	require.ErrorAs(t, err, &replacement)
	assert.Equal(t, "owner", replacement.Field)
	assert.Same(t, stale, replacement.State)
}

func TestStateMachineRejectsGarbage(t *testing.T) {
	fsm := NewStateMachine(1, 1)
	entries, err := fsm.Update([]sm.Entry{{Index: 1}, {Index: 2, Cmd: []byte{0, 0, 0, 0, 9}}})
	require.NoError(t, err)
	assert.Equal(t, uint64(db.RetCInvalidOperation), entries[0].Result.Value)
	assert.Equal(t, uint64(db.RetCInternalError), entries[1].Result.Value)
	assert.Error(t, handleResult(entries[1].Result, nil))
}

func TestStateMachineSnapshot(t *testing.T) {
	source := NewStateMachine(1, 1)
	for i := 0; i < 10; i++ {
		s := state.New("item")
		s.Put("index", i)
		_, err := source.Update([]sm.Entry{entry(t, uint64(i+1), save(s))})
		require.NoError(t, err)
	}

	snapshot, err := source.PrepareSnapshot()
	require.NoError(t, err)

	// updates after PrepareSnapshot are not part of the snapshot
	_, err = source.Update([]sm.Entry{entry(t, 11, save(state.New("item")))})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, source.SaveSnapshot(snapshot, &buf, nil, nil))

	target := NewStateMachine(1, 2)
	require.NoError(t, target.RecoverFromSnapshot(&buf, nil, nil))
	assert.Len(t, selectAll(t, target, query.From("item").Where(query.Gte("index", 5))), 5)
	assert.Len(t, selectAll(t, target, query.From("item")), 10)
}

func TestCommandSerialize(t *testing.T) {
	s := state.New("item")
	s.Put("name", "x")
	s.AddAtomically("tags", "a")
	cmd := internal.Command{Type: internal.CommandTApply, Writes: []db.Write{
		save(s),
		{Operation: db.OpIndex, State: s, Fields: []string{"name", "tags"}},
	}}
	data, err := cmd.Serialize()
	require.NoError(t, err)

	decoded := internal.Command{}
	require.NoError(t, decoded.Deserialize(data))
	require.Len(t, decoded.Writes, 2)
	assert.Equal(t, s.ID(), decoded.Writes[0].State.ID())
	assert.Len(t, decoded.Writes[0].State.AtomicOperations(), 1)
	assert.Equal(t, db.OpIndex, decoded.Writes[1].Operation)
	assert.Equal(t, []string{"name", "tags"}, decoded.Writes[1].Fields)

	assert.Error(t, decoded.Deserialize(data[:len(data)-3]))
}

// --------------------------------------------------------------------------
// Single node cluster
// --------------------------------------------------------------------------

func freeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func startNodeHost(t *testing.T) (*dragonboat.NodeHost, string) {
	for _, name := range []string{"raft", "rsm", "transport", "dragonboat", "logdb", "grpc"} {
		logger.GetLogger(name).SetLevel(logger.ERROR)
	}

	addr := freeAddress(t)
	nh, err := dragonboat.NewNodeHost(config.NodeHostConfig{
		NodeHostDir:    filepath.Join(t.TempDir(), "nodehost"),
		RTTMillisecond: 5,
		RaftAddress:    addr,
	})
	require.NoError(t, err)
	t.Cleanup(nh.Close)
	return nh, addr
}

func startShard(t *testing.T, nh *dragonboat.NodeHost, addr string, shardID uint64) {
	err := nh.StartConcurrentReplica(map[uint64]string{1: addr}, false, CreateStateMachineFactory(), config.Config{
		ReplicaID:    1,
		ShardID:      shardID,
		ElectionRTT:  10,
		HeartbeatRTT: 1,
		CheckQuorum:  true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, ok, err := nh.GetLeaderID(shardID)
		return err == nil && ok
	}, 10*time.Second, 10*time.Millisecond)
}

func Test(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	nh, addr := startNodeHost(t)

	var shardID atomic.Uint64
	dbtesting.RunDatabaseTests(t, "Raft", func() db.Database {
		id := shardID.Add(1)
		startShard(t, nh, addr, id)
		return NewDatabase(nh, id, Options{})
	})
}

func TestEngineLen(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	nh, addr := startNodeHost(t)
	startShard(t, nh, addr, 1)

	e := New(nh, 1, Options{})
	database := db.NewDatabase(e)
	for i := 0; i < 3; i++ {
		require.NoError(t, database.Save(context.Background(), state.New("item")))
	}
	n, err := e.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

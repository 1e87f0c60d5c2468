package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	dbtesting "github.com/ValentinKolb/dPersist/lib/db/testing"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factory(t testing.TB) dbtesting.DBFactory {
	dir := t.TempDir()
	var n atomic.Int64
	return func() db.Database {
		database, err := NewDatabase(Options{
			Path:   filepath.Join(dir, fmt.Sprintf("test-%d.db", n.Add(1))),
			NoSync: true,
		})
		require.NoError(t, err)
		return database
	}
}

func Test(t *testing.T) {
	dbtesting.RunDatabaseTests(t, "Bolt", factory(t))
}

func Benchmark(b *testing.B) {
	dbtesting.RunDatabaseBenchmarks(b, "Bolt", factory(b))
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	database, err := NewDatabase(Options{Path: path})
	require.NoError(t, err)
	s := state.New("item")
	s.Put("name", "persisted")
	require.NoError(t, database.Save(ctx, s))
	require.NoError(t, database.Close())

	database, err = NewDatabase(Options{Path: path})
	require.NoError(t, err)
	defer database.Close()

	result, err := database.ReadFirst(ctx, query.ByID("item", s.ID()))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "persisted", result.Get("name"))
	assert.Equal(t, s.LastUpdate().UnixMilli(), result.LastUpdate().UnixMilli())
}

func TestTypeChange(t *testing.T) {
	ctx := context.Background()
	e, err := Open(Options{Path: filepath.Join(t.TempDir(), "types.db"), NoSync: true})
	require.NoError(t, err)
	database := db.NewDatabase(e)
	defer database.Close()

	s := state.New("draft")
	require.NoError(t, database.Save(ctx, s))
	moved := state.NewWithID("article", s.ID())
	require.NoError(t, database.Save(ctx, moved))

	count, err := database.ReadCount(ctx, query.From("draft"))
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = database.ReadCount(ctx, query.From("article"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err := e.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFailedBatchIsRolledBack(t *testing.T) {
	ctx := context.Background()
	e, err := Open(Options{Path: filepath.Join(t.TempDir(), "rollback.db"), NoSync: true})
	require.NoError(t, err)
	defer e.Close()

	existing := state.New("item")
	existing.Put("owner", "a")
	require.NoError(t, e.Apply(ctx, []db.Write{{Operation: db.OpSave, State: existing}}, false))

	fresh := state.New("item")
	stale := state.NewWithID("item", existing.ID())
	stale.ReplaceAtomically("owner", "b") // expects nil, stored is "a"

	err = e.Apply(ctx, []db.Write{
		{Operation: db.OpSave, State: fresh},
		{Operation: db.OpSave, State: stale},
	}, false)
	require.Error(t, err)
	assert.True(t, db.IsReplacementFailure(err))

	n, err := e.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenWithoutPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

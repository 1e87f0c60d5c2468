package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/funnel"
	dbtesting "github.com/ValentinKolb/dPersist/lib/db/testing"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	dbtesting.RunDatabaseTests(t, "Memory", func() db.Database {
		return NewDatabase(Options{})
	})
	dbtesting.RunDatabaseTests(t, "MemoryWithFunnelCache", func() db.Database {
		return NewDatabase(Options{}, db.WithFunnelCache(funnel.Options{}))
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunDatabaseBenchmarks(b, "Memory", func() db.Database {
		return NewDatabase(Options{})
	})
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	source := New(Options{})
	database := db.NewDatabase(source)

	for i := 0; i < 100; i++ {
		s := state.New("item")
		s.Put("index", i)
		s.Put("tags", []any{"a", "b"})
		require.NoError(t, database.Save(ctx, s))
	}

	var buf bytes.Buffer
	require.NoError(t, source.Save(&buf))

	target := New(Options{})
	require.NoError(t, target.Load(bytes.NewReader(buf.Bytes())))
	assert.Equal(t, 100, target.Len())

	count, err := db.NewDatabase(target).ReadCount(ctx, query.From("item").Where(query.Gte("index", 50)))
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestLoadRejectsGarbage(t *testing.T) {
	e := New(Options{})
	assert.Error(t, e.Load(bytes.NewReader([]byte("not a snapshot"))))
}

func TestLoadRejectsCorruptCounts(t *testing.T) {
	header := func(count uint64) *bytes.Buffer {
		var buf bytes.Buffer
		buf.WriteString(magicNum)
		buf.WriteByte(memoryVersion)
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, count))
		return &buf
	}

	e := New(Options{})

	// far more rows announced than present
	assert.Error(t, e.Load(header(1<<62)))

	// a row longer than the remaining data
	buf := header(1)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(1<<31)))
	buf.WriteString(`{"id":"x"}`)
	assert.Error(t, e.Load(buf))
	assert.Equal(t, 0, e.Len())
}

func TestClock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	database := NewDatabase(Options{Clock: func() time.Time { return now }})
	assert.Equal(t, now, database.Now())

	s := state.New("item")
	require.NoError(t, database.Save(context.Background(), s))
	assert.Equal(t, now, s.LastUpdate())
}

func TestApplyWritesIsAtomic(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	existing := state.New("item")
	existing.Put("owner", "a")
	require.NoError(t, e.Apply(ctx, []db.Write{{Operation: db.OpSave, State: existing}}, false))

	stale := state.NewWithID("item", existing.ID())
	stale.ReplaceAtomically("owner", "b") // expects nil, stored is "a"
	fresh := state.New("item")

	err := e.Apply(ctx, []db.Write{
		{Operation: db.OpSave, State: fresh},
		{Operation: db.OpSave, State: stale},
	}, false)
	require.Error(t, err)
	assert.True(t, db.IsReplacementFailure(err))
	assert.Equal(t, 1, e.Len())
}

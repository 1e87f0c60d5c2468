package testing

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DBFactory is a function that creates a new, empty database
type DBFactory func() db.Database

// RunDatabaseTests runs a comprehensive test suite for a Database implementation.
func RunDatabaseTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Save&Read", func(t *testing.T) {
			testSaveRead(t, factory())
		})

		t.Run("ReadReturnsCopies", func(t *testing.T) {
			testReadReturnsCopies(t, factory())
		})

		t.Run("Predicates", func(t *testing.T) {
			testPredicates(t, factory())
		})

		t.Run("SubQuery", func(t *testing.T) {
			testSubQuery(t, factory())
		})

		t.Run("Sorting&Paging", func(t *testing.T) {
			testSortingPaging(t, factory())
		})

		t.Run("Iterable", func(t *testing.T) {
			testIterable(t, factory())
		})

		t.Run("Grouping", func(t *testing.T) {
			testGrouping(t, factory())
		})

		t.Run("LastUpdate", func(t *testing.T) {
			testLastUpdate(t, factory())
		})

		t.Run("Batches", func(t *testing.T) {
			testBatches(t, factory())
		})

		t.Run("NestedBatches", func(t *testing.T) {
			testNestedBatches(t, factory())
		})

		t.Run("CommitEventually", func(t *testing.T) {
			testCommitEventually(t, factory())
		})

		t.Run("SaveImmediately", func(t *testing.T) {
			testSaveImmediately(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("DeleteByQuery", func(t *testing.T) {
			testDeleteByQuery(t, factory())
		})

		t.Run("AtomicIncrement", func(t *testing.T) {
			testAtomicIncrement(t, factory())
		})

		t.Run("AtomicReplace", func(t *testing.T) {
			testAtomicReplace(t, factory())
		})

		t.Run("ConcurrentReplace", func(t *testing.T) {
			testConcurrentReplace(t, factory())
		})

		t.Run("Validation", func(t *testing.T) {
			testValidation(t, factory())
		})

		t.Run("Index", func(t *testing.T) {
			testIndex(t, factory())
		})

		t.Run("UpdateNotifier", func(t *testing.T) {
			testUpdateNotifier(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const testType = "test-item"

func closeDatabase(database db.Database) {
	if c, ok := database.(io.Closer); ok {
		_ = c.Close()
	}
}

// requireValue compares values the way the databases do (numbers and ids are
// compared by value), values may have been through an encoding
func requireValue(t testing.TB, expected, actual any) {
	t.Helper()
	require.True(t, util.Equal(expected, actual), "expected %v (%T), got %v (%T)", expected, expected, actual, actual)
}

func newItem(name string, rank int) *state.State {
	s := state.New(testType)
	s.Put("name", name)
	s.Put("rank", rank)
	return s
}

func saveItems(t testing.TB, database db.Database, n int) []*state.State {
	t.Helper()
	ctx := context.Background()

	items := make([]*state.State, n)
	err := db.InBatch(ctx, database, false, func(ctx context.Context) error {
		for i := range items {
			items[i] = newItem(fmt.Sprintf("item-%03d", i), i)
			items[i].Put("even", i%2 == 0)
			if err := database.Save(ctx, items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return items
}

func readByID(t testing.TB, database db.Database, s *state.State) *state.State {
	t.Helper()
	result, err := database.ReadFirst(db.WithPrimaryRead(context.Background()), query.ByID(s.Type(), s.ID()).NoCache())
	require.NoError(t, err)
	return result
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSaveRead(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("first", 1)
	item.Put("nested.key", "value")
	require.NoError(t, database.Save(ctx, item))

	result := readByID(t, database, item)
	require.NotNil(t, result)
	assert.Equal(t, item.ID(), result.ID())
	assert.Equal(t, testType, result.Type())
	requireValue(t, "first", result.Get("name"))
	requireValue(t, 1, result.Get("rank"))
	requireValue(t, "value", result.Get("nested.key"))
	assert.False(t, result.LastUpdate().IsZero())

	item.Put("name", "updated")
	require.NoError(t, database.Save(ctx, item))
	requireValue(t, "updated", readByID(t, database, item).Get("name"))

	all, err := database.ReadAll(ctx, query.From(testType))
	require.NoError(t, err)
	assert.Len(t, all, 1)

	other, err := database.ReadAll(ctx, query.From("other-type"))
	require.NoError(t, err)
	assert.Empty(t, other)

	missing, err := database.ReadFirst(ctx, query.From(testType).Where(query.Eq("name", "missing")))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testReadReturnsCopies(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("copy", 1)
	require.NoError(t, database.Save(ctx, item))

	first := readByID(t, database, item)
	first.Put("name", "changed")
	item.Put("name", "changed too")

	requireValue(t, "copy", readByID(t, database, item).Get("name"))
}

func testPredicates(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	saveItems(t, database, 10)

	tests := []struct {
		name      string
		predicate query.Predicate
		count     int64
	}{
		{"eq", query.Eq("name", "item-003"), 1},
		{"eq multiple", query.Eq("name", "item-003", "item-004", "nope"), 2},
		{"eq ignore case", query.EqIgnoreCase("name", "ITEM-003"), 1},
		{"not eq", query.NotEq("name", "item-003"), 9},
		{"lt", query.Lt("rank", 3), 3},
		{"lte", query.Lte("rank", 3), 4},
		{"gt", query.Gt("rank", 7), 2},
		{"gte", query.Gte("rank", 7), 3},
		{"starts with", query.StartsWith("name", "item-00"), 10},
		{"bool", query.Eq("even", true), 5},
		{"and", query.And(query.Gte("rank", 2), query.Lt("rank", 5)), 3},
		{"or", query.Or(query.Eq("rank", 1), query.Eq("rank", 8)), 2},
		{"not", query.Not(query.Eq("even", true)), 5},
		{"missing field", query.Eq("unknown", nil), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := database.ReadCount(ctx, query.From(testType).Where(tt.predicate))
			require.NoError(t, err)
			assert.Equal(t, tt.count, count, "predicate %s", tt.predicate)
		})
	}
}

func testSubQuery(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	items := saveItems(t, database, 5)

	link := state.New("link")
	link.Put("target", items[2].ID().String())
	require.NoError(t, database.Save(ctx, link))

	sub := query.From(testType).Where(query.Eq("rank", 2))
	result, err := database.ReadAll(ctx, query.From("link").Where(query.Eq("target", sub)))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, link.ID(), result[0].ID())

	// a sub-query without results matches nothing
	empty := query.From(testType).Where(query.Eq("rank", 99))
	count, err := database.ReadCount(ctx, query.From("link").Where(query.Eq("target", empty)))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testSortingPaging(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	saveItems(t, database, 10)

	q := query.From(testType).SortDescending("rank")

	page, err := database.ReadPartial(ctx, q, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), page.Count)
	require.Len(t, page.Items, 4)
	requireValue(t, 9, page.Items[0].Get("rank"))
	requireValue(t, 6, page.Items[3].Get("rank"))
	assert.True(t, page.HasNext())

	last, err := database.ReadPartial(ctx, q, page.NextOffset()+4, 4)
	require.NoError(t, err)
	require.Len(t, last.Items, 2)
	requireValue(t, 1, last.Items[0].Get("rank"))
	assert.False(t, last.HasNext())

	beyond, err := database.ReadPartial(ctx, q, 20, 4)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)

	first, err := database.ReadFirst(ctx, query.From(testType).SortAscending("name"))
	require.NoError(t, err)
	requireValue(t, "item-000", first.Get("name"))
}

func testIterable(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	saveItems(t, database, 10)

	var ranks []int64
	for s, err := range database.ReadIterable(ctx, query.From(testType).SortAscending("rank"), 3) {
		require.NoError(t, err)
		rank, ok := util.ToInt64(s.Get("rank"))
		require.True(t, ok)
		ranks = append(ranks, rank)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ranks)

	// stopping early
	n := 0
	for range database.ReadIterable(ctx, query.From(testType), 3) {
		n++
		if n == 4 {
			break
		}
	}
	assert.Equal(t, 4, n)
}

func testGrouping(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	saveItems(t, database, 10)

	groups, err := database.ReadAllGrouped(ctx, query.From(testType).SortAscending("rank"), "even")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	requireValue(t, true, groups[0].Keys[0])
	assert.Equal(t, int64(5), groups[0].Count)
	requireValue(t, false, groups[1].Keys[0])
	assert.Equal(t, int64(5), groups[1].Count)

	page, err := database.ReadPartialGrouped(ctx, query.From(testType).SortAscending("rank"), 1, 5, "even")
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Count)
	require.Len(t, page.Items, 1)
	requireValue(t, false, page.Items[0].Keys[0])
}

func testLastUpdate(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	last, err := database.ReadLastUpdate(ctx, query.From(testType))
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	saveItems(t, database, 3)
	last, err = database.ReadLastUpdate(ctx, query.From(testType))
	require.NoError(t, err)
	assert.False(t, last.IsZero())
	assert.WithinDuration(t, database.Now(), last, time.Minute)
}

func testBatches(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	bctx, err := database.BeginWrites(ctx)
	require.NoError(t, err)

	item := newItem("batched", 1)
	require.NoError(t, database.Save(bctx, item))
	assert.Nil(t, readByID(t, database, item), "buffered write must not be visible before the commit")

	require.NoError(t, database.CommitWrites(bctx))
	require.NotNil(t, readByID(t, database, item))

	// uncommitted writes are discarded
	discarded := newItem("discarded", 2)
	require.NoError(t, database.Save(bctx, discarded))
	require.NoError(t, database.EndWrites(bctx))
	assert.Nil(t, readByID(t, database, discarded))

	// commit without writes is fine
	bctx, err = database.BeginWrites(ctx)
	require.NoError(t, err)
	require.NoError(t, database.CommitWrites(bctx))
	require.NoError(t, database.EndWrites(bctx))
}

func testNestedBatches(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	outer, err := database.BeginWrites(ctx)
	require.NoError(t, err)
	inner, err := database.BeginWrites(outer)
	require.NoError(t, err)

	item := newItem("nested", 1)
	require.NoError(t, database.Save(inner, item))
	require.NoError(t, database.CommitWrites(inner))
	require.NoError(t, database.EndWrites(inner))
	assert.Nil(t, readByID(t, database, item), "inner commit must not apply the batch")

	require.NoError(t, database.CommitWrites(outer))
	require.NoError(t, database.EndWrites(outer))
	assert.NotNil(t, readByID(t, database, item))
}

func testCommitEventually(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("eventually", 1)
	require.NoError(t, db.InBatch(ctx, database, true, func(ctx context.Context) error {
		return database.Save(ctx, item)
	}))

	require.Eventually(t, func() bool {
		s, err := database.ReadFirst(db.WithPrimaryRead(ctx), query.ByID(testType, item.ID()).NoCache())
		return err == nil && s != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func testSaveImmediately(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	bctx, err := database.BeginWrites(ctx)
	require.NoError(t, err)
	defer database.EndWrites(bctx)

	buffered := newItem("buffered", 1)
	require.NoError(t, database.Save(bctx, buffered))

	immediate := newItem("immediate", 2)
	require.NoError(t, db.SaveImmediately(bctx, database, immediate))

	assert.NotNil(t, readByID(t, database, immediate))
	assert.Nil(t, readByID(t, database, buffered))

	require.NoError(t, database.CommitWrites(bctx))
	assert.NotNil(t, readByID(t, database, buffered))
}

func testDelete(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	items := saveItems(t, database, 3)

	require.NoError(t, database.Delete(ctx, items[1]))
	assert.Nil(t, readByID(t, database, items[1]))
	assert.NotNil(t, readByID(t, database, items[0]))

	// deleting twice is not an error
	require.NoError(t, db.DeleteImmediately(ctx, database, items[1]))

	count, err := database.ReadCount(ctx, query.From(testType))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func testDeleteByQuery(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()
	saveItems(t, database, 10)

	require.NoError(t, database.DeleteByQuery(ctx, query.From(testType).Where(query.Eq("even", true))))

	count, err := database.ReadCount(ctx, query.From(testType))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	count, err = database.ReadCount(ctx, query.From(testType).Where(query.Eq("even", true)))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testAtomicIncrement(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("counter", 0)
	item.Put("count", 10)
	require.NoError(t, database.Save(ctx, item))

	// two writers based on the same stale copy do not lose an update
	a, b := readByID(t, database, item), readByID(t, database, item)
	a.IncrementAtomically("count", 5)
	b.IncrementAtomically("count", 3)
	require.NoError(t, database.Save(ctx, a))
	require.NoError(t, database.Save(ctx, b))

	requireValue(t, 18, readByID(t, database, item).Get("count"))

	c := readByID(t, database, item)
	c.AddAtomically("tags", "x")
	c.AddAtomically("tags", "y")
	require.NoError(t, database.Save(ctx, c))
	d := readByID(t, database, item)
	d.RemoveAtomically("tags", "x")
	require.NoError(t, database.Save(ctx, d))
	requireValue(t, []any{"y"}, readByID(t, database, item).Get("tags"))
}

func testAtomicReplace(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("owner", 0)
	item.Put("owner", "a")
	require.NoError(t, database.Save(ctx, item))

	stale := readByID(t, database, item)

	winner := readByID(t, database, item)
	winner.ReplaceAtomically("owner", "b")
	require.NoError(t, database.Save(ctx, winner))

	stale.ReplaceAtomically("owner", "c")
	err := database.Save(ctx, stale)
	require.Error(t, err)
	assert.True(t, db.IsReplacementFailure(err), "expected replacement failure, got %v", err)

	requireValue(t, "b", readByID(t, database, item).Get("owner"))

	// a failed replace aborts the whole batch
	other := newItem("other", 1)
	stale = readByID(t, database, item)
	stale.ReplaceAtomically("owner", "d")
	concurrent := readByID(t, database, item)
	concurrent.Put("owner", "e")
	require.NoError(t, database.Save(ctx, concurrent))

	err = db.InBatch(ctx, database, false, func(ctx context.Context) error {
		if err := database.Save(ctx, other); err != nil {
			return err
		}
		return database.Save(ctx, stale)
	})
	assert.True(t, db.IsReplacementFailure(err), "expected replacement failure, got %v", err)
	assert.Nil(t, readByID(t, database, other))
}

func testConcurrentReplace(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("race", 0)
	require.NoError(t, database.Save(ctx, item))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := readByID(t, database, item)
			s.ReplaceAtomically("owner", fmt.Sprintf("worker-%d", i))
			<-start
			err := db.SaveImmediately(ctx, database, s)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, db.IsReplacementFailure(err), "unexpected error %v", err)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func testValidation(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("invalid", 1)
	item.AddError("name", "too short")

	err := database.Save(ctx, item)
	require.Error(t, err)
	var dbErr *db.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, db.RetCValidation, dbErr.Code)
	assert.Nil(t, readByID(t, database, item))

	require.NoError(t, database.SaveUnsafely(ctx, item))
	assert.NotNil(t, readByID(t, database, item))
}

func testIndex(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	item := newItem("index", 1)
	require.NoError(t, database.Save(ctx, item))
	before := readByID(t, database, item)

	time.Sleep(5 * time.Millisecond)
	changed := before.Clone()
	changed.Put("name", "not persisted")
	require.NoError(t, database.Index(ctx, changed))
	require.NoError(t, database.Recalculate(ctx, changed, "name"))

	after := readByID(t, database, item)
	requireValue(t, "index", after.Get("name"))
	assert.False(t, after.LastUpdate().Before(before.LastUpdate()))
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) OnUpdate(_ context.Context, s *state.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, s.ID().String())
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}

func testUpdateNotifier(t *testing.T, database db.Database) {
	defer closeDatabase(database)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	database.AddUpdateNotifier(notifier)

	saveItems(t, database, 3)
	assert.Equal(t, 3, notifier.count())

	database.RemoveUpdateNotifier(notifier)
	require.NoError(t, database.Save(ctx, newItem("silent", 1)))
	assert.Equal(t, 3, notifier.count())
}

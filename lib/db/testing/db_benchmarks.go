package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
)

// RunDatabaseBenchmarks runs all benchmarks for a Database implementation
func RunDatabaseBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Save", func(b *testing.B) {
		benchmarkSave(b, factory())
	})

	b.Run("SaveBatch", func(b *testing.B) {
		benchmarkSaveBatch(b, factory())
	})

	b.Run("ReadByID", func(b *testing.B) {
		benchmarkReadByID(b, factory())
	})

	b.Run("ReadCount", func(b *testing.B) {
		benchmarkReadCount(b, factory())
	})

	b.Run("AtomicIncrement", func(b *testing.B) {
		benchmarkAtomicIncrement(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for single saves outside a batch
func benchmarkSave(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		closeDatabase(database)
	})
	ctx := context.Background()

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			if err := database.Save(ctx, newItem(fmt.Sprintf("bench-%d", i), int(i))); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// Benchmark for saves committed in batches of 100
func benchmarkSaveBatch(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		closeDatabase(database)
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i += 100 {
		err := db.InBatch(ctx, database, false, func(ctx context.Context) error {
			for j := i; j < i+100 && j < b.N; j++ {
				if err := database.Save(ctx, newItem(fmt.Sprintf("bench-%d", j), j)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for id lookups
func benchmarkReadByID(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		closeDatabase(database)
	})
	ctx := context.Background()
	items := saveItems(b, database, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			item := items[i%len(items)]
			if _, err := database.ReadFirst(ctx, query.ByID(testType, item.ID())); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

// Benchmark for counting with a predicate
func benchmarkReadCount(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		closeDatabase(database)
	})
	ctx := context.Background()
	saveItems(b, database, 1000)
	q := query.From(testType).Where(query.Gte("rank", 500))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.ReadCount(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for concurrent increments of the same row
func benchmarkAtomicIncrement(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		closeDatabase(database)
	})
	ctx := context.Background()
	counter := newItem("counter", 0)
	if err := database.Save(ctx, counter); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s := state.NewWithID(testType, counter.ID())
			s.IncrementAtomically("count", 1)
			if err := database.Save(ctx, s); err != nil {
				b.Fatal(err)
			}
		}
	})
}

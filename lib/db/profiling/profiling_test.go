package profiling_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/memory"
	"github.com/ValentinKolb/dPersist/lib/db/profiling"
	dbtesting "github.com/ValentinKolb/dPersist/lib/db/testing"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []profiling.Event
}

func (c *collector) Record(e profiling.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.Name
	}
	return names
}

func TestConformance(t *testing.T) {
	dbtesting.RunDatabaseTests(t, "Profiling", func() db.Database {
		return profiling.New(memory.NewDatabase(memory.Options{}), nil)
	})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	c := &collector{}
	d := profiling.New(memory.NewDatabase(memory.Options{Name: "events"}), c)

	require.NoError(t, db.InBatch(ctx, d, false, func(ctx context.Context) error {
		return d.Save(ctx, state.New("item"))
	}))
	_, err := d.ReadAll(ctx, query.From("item"))
	require.NoError(t, err)
	_, err = d.ReadCount(ctx, query.From("item").Resolving())
	require.NoError(t, err)
	for range d.ReadIterable(ctx, query.From("item"), 10) {
	}

	assert.Equal(t, []string{"Begin Writes", "Save", "Commit Writes", "End Writes", "Read All", "Read Count", "Read Iterable"}, c.names())

	for _, e := range c.events {
		assert.Equal(t, "events", e.Database)
		assert.True(t, strings.HasSuffix(e.Caller.Function, "profiling_test.TestEvents") ||
			strings.Contains(e.Caller.Function, "profiling_test.TestEvents."), "unexpected caller %s", e.Caller.Function)
	}
	assert.Equal(t, profiling.CategoryDatabase, c.events[4].Category)
	assert.Equal(t, profiling.CategoryResolving, c.events[5].Category)
}

type failing struct {
	*db.Forwarding
}

func (f failing) ReadFirst(context.Context, *query.Query) (*state.State, error) {
	return nil, errors.New("boom")
}

func TestErrorsAreRecorded(t *testing.T) {
	c := &collector{}
	d := profiling.New(failing{db.NewForwarding(memory.NewDatabase(memory.Options{}))}, c)

	_, err := d.ReadFirst(context.Background(), query.From("item"))
	require.Error(t, err)
	require.Len(t, c.events, 1)
	assert.EqualError(t, c.events[0].Err, "boom")
}

func TestMetricsRecorder(t *testing.T) {
	d := profiling.New(memory.NewDatabase(memory.Options{Name: "metrics"}), profiling.MetricsRecorder{})
	_, err := d.ReadCount(context.Background(), query.FromAll())
	require.NoError(t, err)
}

package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/memory"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEngine records the size of every applied batch and fails the first
// failFirst batches
type recordingEngine struct {
	*memory.Engine

	mu        sync.Mutex
	batches   []int
	failFirst int
}

func (e *recordingEngine) Apply(ctx context.Context, writes []db.Write, eventually bool) error {
	e.mu.Lock()
	e.batches = append(e.batches, len(writes))
	fail := e.failFirst > 0
	if fail {
		e.failFirst--
	}
	e.mu.Unlock()

	if fail {
		return errors.New("injected failure")
	}
	return e.Engine.Apply(ctx, writes, eventually)
}

func (e *recordingEngine) Batches() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.batches...)
}

func newRecordingDatabase(failFirst int) (*recordingEngine, *db.EngineDatabase) {
	e := &recordingEngine{Engine: memory.New(memory.Options{}), failFirst: failFirst}
	return e, db.NewDatabase(e)
}

func items(n int) []*state.State {
	states := make([]*state.State, n)
	for i := range states {
		states[i] = state.New("item")
		states[i].Put("index", i)
	}
	return states
}

// fill adds all states to a new queue and closes it
func fill(t *testing.T, states []*state.State) *Queue[*state.State] {
	q := NewQueue[*state.State](len(states) + 1)
	for _, s := range states {
		require.NoError(t, q.Add(context.Background(), s))
	}
	q.Close()
	return q
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

func TestQueueDrainsAfterClose(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[int](10)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Add(ctx, i))
	}
	q.Close()
	assert.True(t, q.IsClosed())
	assert.ErrorIs(t, q.Add(ctx, 99), ErrClosed)

	for i := 0; i < 3; i++ {
		v, ok, err := q.Remove(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok, err := q.Remove(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.AddSuccess)
	assert.Equal(t, int64(1), stats.AddFailure)
	assert.Equal(t, int64(3), stats.Removed)
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Add(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Add(ctx, 2), context.DeadlineExceeded)

	added := make(chan error, 1)
	go func() { added <- q.Add(context.Background(), 2) }()

	v, ok, err := q.Remove(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	require.NoError(t, <-added)
	assert.Equal(t, 1, q.Len())
}

func TestQueueClosesAutomatically(t *testing.T) {
	q := NewQueue[int](1)
	a, b := "a", "b"
	q.AddProducer(a)
	q.AddProducer(b)
	q.CloseAutomatically()
	assert.False(t, q.IsClosed())

	q.RemoveProducer(a)
	assert.False(t, q.IsClosed())
	q.RemoveProducer(b)
	assert.True(t, q.IsClosed())

	empty := NewQueue[int](1)
	empty.CloseAutomatically()
	assert.True(t, empty.IsClosed())
}

func TestQueueRemoveUnblocksOnClose(t *testing.T) {
	q := NewQueue[int](1)
	done := make(chan bool)
	go func() {
		_, ok, _ := q.Remove(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	assert.False(t, <-done)
}

// --------------------------------------------------------------------------
// Consumer
// --------------------------------------------------------------------------

type recordingHandler struct {
	consumed []int
	handled  []int
	finished bool
	fatal    bool
}

func (h *recordingHandler) BeforeStart(context.Context) error { return nil }

func (h *recordingHandler) Consume(_ context.Context, item int) error {
	if item%2 == 1 {
		return fmt.Errorf("odd item %d", item)
	}
	h.consumed = append(h.consumed, item)
	return nil
}

func (h *recordingHandler) HandleError(_ context.Context, item int, err error) error {
	h.handled = append(h.handled, item)
	if h.fatal {
		return err
	}
	return nil
}

func (h *recordingHandler) Finished(context.Context) error {
	h.finished = true
	return nil
}

func TestConsumer(t *testing.T) {
	ctx := context.Background()
	newQueue := func() *Queue[int] {
		q := NewQueue[int](10)
		for i := 0; i < 5; i++ {
			require.NoError(t, q.Add(ctx, i))
		}
		q.Close()
		return q
	}

	t.Run("NonFatalErrors", func(t *testing.T) {
		h := &recordingHandler{}
		c := NewConsumer[int](newQueue(), h)
		require.NoError(t, c.Run(ctx))
		assert.Equal(t, []int{0, 2, 4}, h.consumed)
		assert.Equal(t, []int{1, 3}, h.handled)
		assert.True(t, h.finished)
		assert.Equal(t, int64(3), c.Stats().Consumed)
		assert.Equal(t, int64(2), c.Stats().Errors)
	})

	t.Run("FatalError", func(t *testing.T) {
		h := &recordingHandler{fatal: true}
		c := NewConsumer[int](newQueue(), h)
		assert.EqualError(t, c.Run(ctx), "odd item 1")
		assert.Equal(t, []int{0}, h.consumed)
		assert.True(t, h.finished)
	})
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

func TestWriterCommitSizes(t *testing.T) {
	engine, database := newRecordingDatabase(0)
	w := NewWriter(database, fill(t, items(25)), WriterOptions{CommitSize: 10, CommitSizeJitter: -1})
	require.NoError(t, w.Run(context.Background()))

	// three commits plus the final save of the last item
	assert.Equal(t, []int{10, 10, 5, 1}, engine.Batches())
	assert.Equal(t, 25, engine.Len())
	assert.Equal(t, WriterStats{Commits: 3}, w.Stats())
}

func TestWriterCommitCount(t *testing.T) {
	for _, tc := range []struct{ n, k, commits int }{
		{n: 1, k: 1, commits: 1},
		{n: 9, k: 3, commits: 3},
		{n: 10, k: 3, commits: 4},
		{n: 7, k: 100, commits: 1},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.n, tc.k), func(t *testing.T) {
			engine, database := newRecordingDatabase(0)
			w := NewWriter(database, fill(t, items(tc.n)), WriterOptions{CommitSize: tc.k, CommitSizeJitter: -1})
			require.NoError(t, w.Run(context.Background()))
			assert.Equal(t, int64(tc.commits), w.Stats().Commits)
			assert.Len(t, engine.Batches(), tc.commits+1)
		})
	}
}

func TestWriterEmptyInput(t *testing.T) {
	engine, database := newRecordingDatabase(0)
	w := NewWriter(database, fill(t, nil), WriterOptions{})
	require.NoError(t, w.Run(context.Background()))
	assert.Empty(t, engine.Batches())
}

func TestWriterFallsBackToSingleCommits(t *testing.T) {
	engine, database := newRecordingDatabase(1)
	w := NewWriter(database, fill(t, items(4)), WriterOptions{CommitSize: 4, CommitSizeJitter: -1})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []int{4, 1, 1, 1, 1, 1}, engine.Batches())
	assert.Equal(t, 4, engine.Len())
	assert.Equal(t, WriterStats{Fallbacks: 4}, w.Stats())
}

func TestWriterOnError(t *testing.T) {
	// the bulk commit and the first single commit fail
	_, database := newRecordingDatabase(2)
	var failed []*state.State
	w := NewWriter(database, fill(t, items(3)), WriterOptions{
		CommitSize:       3,
		CommitSizeJitter: -1,
		OnError: func(_ context.Context, s *state.State, err error) error {
			failed = append(failed, s)
			return nil
		},
	})
	require.NoError(t, w.Run(context.Background()))
	require.Len(t, failed, 1)
	assert.Equal(t, 0, failed[0].Get("index"))
	assert.Equal(t, WriterStats{Fallbacks: 3, Failures: 1}, w.Stats())

	// a failing OnError stops the writer
	_, database = newRecordingDatabase(2)
	w = NewWriter(database, fill(t, items(3)), WriterOptions{
		CommitSize:       3,
		CommitSizeJitter: -1,
		OnError: func(_ context.Context, _ *state.State, err error) error {
			return err
		},
	})
	assert.EqualError(t, w.Run(context.Background()), "injected failure")
}

func TestWriterInvalidLastRecord(t *testing.T) {
	engine, database := newRecordingDatabase(0)
	states := items(3)
	states[2].AddError("index", "bad")

	var failed []*state.State
	w := NewWriter(database, fill(t, states), WriterOptions{
		CommitSize:       3,
		CommitSizeJitter: -1,
		OnError: func(_ context.Context, s *state.State, err error) error {
			failed = append(failed, s)
			return nil
		},
	})
	require.NoError(t, w.Run(context.Background()))
	require.Len(t, failed, 1, "the last record is reported once")
	assert.Same(t, states[2], failed[0])
	assert.Equal(t, 2, engine.Len())
	assert.Equal(t, WriterStats{Fallbacks: 3, Failures: 1}, w.Stats())
}

// lastApplyFails fails every apply after the first n
type lastApplyFails struct {
	*memory.Engine
	n int
}

func (e *lastApplyFails) Apply(ctx context.Context, writes []db.Write, eventually bool) error {
	if e.n <= 0 {
		return errors.New("injected failure")
	}
	e.n--
	return e.Engine.Apply(ctx, writes, eventually)
}

func TestWriterFinalWriteGoesToOnError(t *testing.T) {
	states := items(2)
	database := db.NewDatabase(&lastApplyFails{Engine: memory.New(memory.Options{}), n: 1})

	var failed []*state.State
	w := NewWriter(database, fill(t, states), WriterOptions{
		CommitSize:       2,
		CommitSizeJitter: -1,
		OnError: func(_ context.Context, s *state.State, err error) error {
			failed = append(failed, s)
			return nil
		},
	})
	require.NoError(t, w.Run(context.Background()))
	require.Len(t, failed, 1)
	assert.Same(t, states[1], failed[0])
	assert.Equal(t, WriterStats{Commits: 1, Failures: 1}, w.Stats())

	// stopping on errors still surfaces the final failure
	w = NewWriter(db.NewDatabase(&lastApplyFails{Engine: memory.New(memory.Options{}), n: 1}), fill(t, items(2)), WriterOptions{
		CommitSize:       2,
		CommitSizeJitter: -1,
		OnError: func(_ context.Context, _ *state.State, err error) error {
			return err
		},
	})
	assert.Error(t, w.Run(context.Background()))
}

func TestWriterMaximumDataLength(t *testing.T) {
	states := items(6)
	engine, database := newRecordingDatabase(0)
	w := NewWriter(database, fill(t, states), WriterOptions{
		CommitSize:        100,
		CommitSizeJitter:  -1,
		MaximumDataLength: states[0].DataLength() + 1,
	})
	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []int{2, 2, 2, 1}, engine.Batches())
}

func TestWriterJitter(t *testing.T) {
	w := NewWriter(nil, nil, WriterOptions{CommitSize: 100})
	for i := 0; i < 100; i++ {
		w.calculateNextCommitSize()
		assert.GreaterOrEqual(t, w.nextCommitSize, 80)
		assert.LessOrEqual(t, w.nextCommitSize, 120)
	}

	w = NewWriter(nil, nil, WriterOptions{CommitSize: 1, CommitSizeJitter: 0.9})
	for i := 0; i < 100; i++ {
		w.calculateNextCommitSize()
		assert.GreaterOrEqual(t, w.nextCommitSize, 1)
	}
}

func TestWriterOperations(t *testing.T) {
	ctx := context.Background()
	database := memory.NewDatabase(memory.Options{})
	states := items(5)
	for _, s := range states {
		require.NoError(t, database.Save(ctx, s))
	}

	w := NewWriter(database, fill(t, states[:3]), WriterOptions{Operation: db.OpDelete, CommitSize: 2})
	require.NoError(t, w.Run(ctx))

	count, err := database.ReadCount(ctx, query.From("item"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// --------------------------------------------------------------------------
// Reader and Copy
// --------------------------------------------------------------------------

func TestReader(t *testing.T) {
	ctx := context.Background()
	database := memory.NewDatabase(memory.Options{})
	for _, s := range items(12) {
		require.NoError(t, database.Save(ctx, s))
	}

	q := NewQueue[*state.State](100)
	r := NewReader(database, query.From("item").Where(query.Lt("index", 10)), 3, q)
	q.CloseAutomatically()
	assert.False(t, q.IsClosed())

	require.NoError(t, r.Run(ctx))
	assert.True(t, q.IsClosed())
	assert.Equal(t, int64(10), r.Produced())
	assert.Equal(t, 10, q.Len())
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	source := memory.NewDatabase(memory.Options{})
	for _, s := range items(250) {
		require.NoError(t, source.Save(ctx, s))
	}

	targetEngine, target := newRecordingDatabase(0)
	stats, err := Copy(ctx, source, query.From("item"), target, CopyOptions{
		FetchSize:     17,
		QueueCapacity: 8,
		Writers:       4,
		Writer:        WriterOptions{CommitSize: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(250), stats.Read)
	assert.Equal(t, int64(250), stats.Queue.Removed)
	assert.Len(t, stats.Writers, 4)
	assert.Equal(t, 250, targetEngine.Len())

	count, err := target.ReadCount(ctx, query.From("item"))
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
}

func TestCopyStopsOnWriterFailure(t *testing.T) {
	ctx := context.Background()
	source := memory.NewDatabase(memory.Options{})
	for _, s := range items(50) {
		require.NoError(t, source.Save(ctx, s))
	}

	_, target := newRecordingDatabase(1000)
	_, err := Copy(ctx, source, query.From("item"), target, CopyOptions{
		Writers: 2,
		Writer: WriterOptions{
			CommitSize: 5,
			OnError: func(_ context.Context, _ *state.State, err error) error {
				return err
			},
		},
	})
	assert.Error(t, err)
}

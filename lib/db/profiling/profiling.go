package profiling

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("profiling")

// Event categories
const (
	CategoryDatabase  = "Database"
	CategoryResolving = "Resolving Fields"
)

// Event describes one timed database call
type Event struct {
	Category string
	Name     string
	Database string
	Caller   runtime.Frame
	Query    *query.Query
	Duration time.Duration
	Err      error
}

// Recorder receives the profiling events
type Recorder interface {
	Record(e Event)
}

// RecorderFunc adapts a function to the Recorder interface
type RecorderFunc func(e Event)

func (f RecorderFunc) Record(e Event) { f(e) }

// MetricsRecorder records events as VictoriaMetrics histograms and counters
type MetricsRecorder struct {
	// SlowThreshold logs calls that take longer (0 disables logging)
	SlowThreshold time.Duration
}

func (r MetricsRecorder) Record(e Event) {
	labels := fmt.Sprintf("database=%q,category=%q,event=%q", e.Database, e.Category, e.Name)
	metrics.GetOrCreateHistogram("dpersist_database_duration_seconds{" + labels + "}").Update(e.Duration.Seconds())
	if e.Err != nil {
		metrics.GetOrCreateCounter("dpersist_database_errors_total{" + labels + "}").Inc()
	}
	if r.SlowThreshold > 0 && e.Duration > r.SlowThreshold {
		log.Warningf("slow %s on [%s] took %s (called from %s:%d)", e.Name, e.Database, e.Duration, e.Caller.Function, e.Caller.Line)
	}
}

// --------------------------------------------------------------------------
// Profiling Stage
// --------------------------------------------------------------------------

// Database is the profiling stage
type Database struct {
	*db.Forwarding
	recorder Recorder
}

// New wraps next in a profiling stage. A nil recorder records metrics.
func New(next db.Database, recorder Recorder) *Database {
	if recorder == nil {
		recorder = MetricsRecorder{}
	}
	return &Database{Forwarding: db.NewForwarding(next), recorder: recorder}
}

// Stage returns a db.Stage that adds a profiling stage to a chain
func Stage(recorder Recorder) db.Stage {
	return func(next db.Database) db.Database {
		return New(next, recorder)
	}
}

// ignoredPackages are skipped when looking for the caller of a database call
var ignoredPackages = []string{
	"github.com/ValentinKolb/dPersist/lib/db.",
	"github.com/ValentinKolb/dPersist/lib/db/",
	"github.com/ValentinKolb/dPersist/lib/query.",
	"github.com/ValentinKolb/dPersist/lib/state.",
}

func ignored(function string) bool {
	if strings.Contains(function, "_test.") {
		return false
	}
	for _, prefix := range ignoredPackages {
		if strings.HasPrefix(function, prefix) {
			return true
		}
	}
	return false
}

// caller returns the first frame outside of the database packages
func caller() runtime.Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !ignored(frame.Function) {
			return frame
		}
		if !more {
			return frame
		}
	}
}

// start begins timing an event, the returned function completes and records it
func (d *Database) start(name string, q *query.Query) func(err error) {
	e := Event{
		Category: CategoryDatabase,
		Name:     name,
		Database: d.Name(),
		Caller:   caller(),
		Query:    q,
	}
	if q != nil && q.IsResolving() {
		e.Category = CategoryResolving
	}
	begin := time.Now()
	return func(err error) {
		e.Duration = time.Since(begin)
		e.Err = err
		d.recorder.Record(e)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Database)
// --------------------------------------------------------------------------

func (d *Database) ReadAll(ctx context.Context, q *query.Query) (result []*state.State, err error) {
	done := d.start("Read All", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadAll(ctx, q)
}

func (d *Database) ReadAllGrouped(ctx context.Context, q *query.Query, fields ...string) (result []*db.Grouping, err error) {
	done := d.start("Read All Grouped", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadAllGrouped(ctx, q, fields...)
}

func (d *Database) ReadCount(ctx context.Context, q *query.Query) (count int64, err error) {
	done := d.start("Read Count", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadCount(ctx, q)
}

func (d *Database) ReadFirst(ctx context.Context, q *query.Query) (result *state.State, err error) {
	done := d.start("Read First", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadFirst(ctx, q)
}

// ReadIterable records the time until the iteration ends
func (d *Database) ReadIterable(ctx context.Context, q *query.Query, fetchSize int) iter.Seq2[*state.State, error] {
	seq := d.Forwarding.ReadIterable(ctx, q, fetchSize)
	return func(yield func(*state.State, error) bool) {
		done := d.start("Read Iterable", q)
		var err error
		defer func() { done(err) }()
		for s, e := range seq {
			if e != nil {
				err = e
			}
			if !yield(s, e) {
				return
			}
		}
	}
}

func (d *Database) ReadLastUpdate(ctx context.Context, q *query.Query) (last time.Time, err error) {
	done := d.start("Read Last Update", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadLastUpdate(ctx, q)
}

func (d *Database) ReadPartial(ctx context.Context, q *query.Query, offset int64, limit int) (result *db.PaginatedResult[*state.State], err error) {
	done := d.start("Read Partial", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadPartial(ctx, q, offset, limit)
}

func (d *Database) ReadPartialGrouped(ctx context.Context, q *query.Query, offset int64, limit int, fields ...string) (result *db.PaginatedResult[*db.Grouping], err error) {
	done := d.start("Read Partial Grouped", q)
	defer func() { done(err) }()
	return d.Forwarding.ReadPartialGrouped(ctx, q, offset, limit, fields...)
}

func (d *Database) BeginWrites(ctx context.Context) (result context.Context, err error) {
	done := d.start("Begin Writes", nil)
	defer func() { done(err) }()
	return d.Forwarding.BeginWrites(ctx)
}

func (d *Database) BeginIsolatedWrites(ctx context.Context) (result context.Context, err error) {
	done := d.start("Begin Writes", nil)
	defer func() { done(err) }()
	return d.Forwarding.BeginIsolatedWrites(ctx)
}

func (d *Database) CommitWrites(ctx context.Context) (err error) {
	done := d.start("Commit Writes", nil)
	defer func() { done(err) }()
	return d.Forwarding.CommitWrites(ctx)
}

func (d *Database) CommitWritesEventually(ctx context.Context) (err error) {
	done := d.start("Commit Writes Eventually", nil)
	defer func() { done(err) }()
	return d.Forwarding.CommitWritesEventually(ctx)
}

func (d *Database) EndWrites(ctx context.Context) (err error) {
	done := d.start("End Writes", nil)
	defer func() { done(err) }()
	return d.Forwarding.EndWrites(ctx)
}

func (d *Database) Save(ctx context.Context, s *state.State) (err error) {
	done := d.start("Save", nil)
	defer func() { done(err) }()
	return d.Forwarding.Save(ctx, s)
}

func (d *Database) SaveUnsafely(ctx context.Context, s *state.State) (err error) {
	done := d.start("Save Unsafely", nil)
	defer func() { done(err) }()
	return d.Forwarding.SaveUnsafely(ctx, s)
}

func (d *Database) Index(ctx context.Context, s *state.State) (err error) {
	done := d.start("Index", nil)
	defer func() { done(err) }()
	return d.Forwarding.Index(ctx, s)
}

func (d *Database) Delete(ctx context.Context, s *state.State) (err error) {
	done := d.start("Delete", nil)
	defer func() { done(err) }()
	return d.Forwarding.Delete(ctx, s)
}

func (d *Database) DeleteByQuery(ctx context.Context, q *query.Query) (err error) {
	done := d.start("Delete By Query", q)
	defer func() { done(err) }()
	return d.Forwarding.DeleteByQuery(ctx, q)
}

func (d *Database) Recalculate(ctx context.Context, s *state.State, fields ...string) (err error) {
	done := d.start("Recalculate", nil)
	defer func() { done(err) }()
	return d.Forwarding.Recalculate(ctx, s, fields...)
}

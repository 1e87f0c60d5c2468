package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/engines/memory"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	bbolt "go.etcd.io/bbolt"
)

var log = logger.GetLogger("bolt")

var (
	rowsBucket  = []byte("rows")
	typesBucket = []byte("types")
)

// Options configures the bolt engine
type Options struct {
	Path    string           // Database file, created if missing
	Name    string           // Name reported by the database (default "bolt")
	Timeout time.Duration    // Time to wait for the file lock (default 1s)
	NoSync  bool             // Skip fsync after commits
	Clock   func() time.Time // Clock of the database (default time.Now)
}

// Engine stores records in a bbolt file
type Engine struct {
	name  string
	clock func() time.Time
	db    *bbolt.DB
}

// Open opens or creates the database file
func Open(opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("bolt: no path given")
	}
	if opts.Name == "" {
		opts.Name = "bolt"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory %s", dir)
		}
	}

	bdb, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{Timeout: opts.Timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", opts.Path)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(rowsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(typesBucket)
		return err
	})
	if err != nil {
		_ = bdb.Close()
		return nil, errors.Wrap(err, "create buckets")
	}

	log.Infof("opened bolt database %s", opts.Path)
	return &Engine{name: opts.Name, clock: opts.Clock, db: bdb}, nil
}

// NewDatabase opens a bolt engine and wraps it into a database
func NewDatabase(opts Options, dbOpts ...db.Option) (*db.EngineDatabase, error) {
	e, err := Open(opts)
	if err != nil {
		return nil, err
	}
	return db.NewDatabase(e, dbOpts...), nil
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

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Select(ctx context.Context, q *query.Query) ([]*state.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*state.State
	err := e.db.View(func(tx *bbolt.Tx) error {
		var scanErr error
		rows := func(yield func(*state.State) bool) {
			scanErr = scan(tx, q, yield)
		}
		var err error
		if result, err = memory.Select(q, rows); err != nil {
			return err
		}
		return scanErr
	})
	return result, err
}

func (e *Engine) Apply(ctx context.Context, writes []db.Write, eventually bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var saved map[uuid.UUID]map[string]any
	fn := func(tx *bbolt.Tx) error {
		// Batch may run fn more than once
		saved = make(map[uuid.UUID]map[string]any)
		return applyWrites(tx, writes, saved)
	}

	var err error
	if eventually {
		err = e.db.Batch(fn)
	} else {
		err = e.db.Update(fn)
	}
	if err != nil {
		return err
	}

	for _, w := range writes {
		if values, ok := saved[w.State.ID()]; ok {
			w.State.SetValues(values)
		}
	}
	return nil
}

// Len returns the number of stored records
func (e *Engine) Len() (n int, err error) {
	err = e.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(typesBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// scan yields the candidate rows of q. Queries by id only read the addressed
// rows, typed queries read one bucket.
func scan(tx *bbolt.Tx, q *query.Query, yield func(*state.State) bool) error {
	if ids, ok := q.FindIDOnlyValues(); ok {
		for _, id := range ids {
			s, err := get(tx, id)
			if err != nil {
				return err
			}
			if s != nil && !yield(s) {
				return nil
			}
		}
		return nil
	}

	rows := tx.Bucket(rowsBucket)
	scanBucket := func(b *bbolt.Bucket) (bool, error) {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			s, err := decode(v)
			if err != nil {
				return false, err
			}
			if !yield(s) {
				return false, nil
			}
		}
		return true, nil
	}

	if q.Group() != "" {
		b := rows.Bucket([]byte(q.Group()))
		if b == nil {
			return nil
		}
		_, err := scanBucket(b)
		return err
	}

	err := rows.ForEach(func(name, _ []byte) error {
		b := rows.Bucket(name)
		if b == nil {
			return nil
		}
		more, err := scanBucket(b)
		if err != nil {
			return err
		}
		if !more {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

var errStop = errors.New("stop")

// get reads one row by id, nil if it does not exist
func get(tx *bbolt.Tx, id uuid.UUID) (*state.State, error) {
	typeName := tx.Bucket(typesBucket).Get(id[:])
	if typeName == nil {
		return nil, nil
	}
	b := tx.Bucket(rowsBucket).Bucket(typeName)
	if b == nil {
		return nil, nil
	}
	v := b.Get(id[:])
	if v == nil {
		return nil, nil
	}
	return decode(v)
}

func put(tx *bbolt.Tx, row *state.State) error {
	id := row.ID()
	types := tx.Bucket(typesBucket)

	// a record whose type changed moves to the new bucket
	if old := types.Get(id[:]); old != nil && string(old) != row.Type() {
		if b := tx.Bucket(rowsBucket).Bucket(old); b != nil {
			if err := b.Delete(id[:]); err != nil {
				return err
			}
		}
	}

	b, err := tx.Bucket(rowsBucket).CreateBucketIfNotExists([]byte(row.Type()))
	if err != nil {
		return errors.Wrapf(err, "create bucket %s", row.Type())
	}
	data, err := json.Marshal(row)
	if err != nil {
		return errors.Wrapf(err, "encode %s", row)
	}
	if err := b.Put(id[:], data); err != nil {
		return err
	}
	return types.Put(id[:], []byte(row.Type()))
}

func remove(tx *bbolt.Tx, id uuid.UUID) error {
	types := tx.Bucket(typesBucket)
	typeName := types.Get(id[:])
	if typeName == nil {
		return nil
	}
	if b := tx.Bucket(rowsBucket).Bucket(typeName); b != nil {
		if err := b.Delete(id[:]); err != nil {
			return err
		}
	}
	return types.Delete(id[:])
}

func decode(data []byte) (*state.State, error) {
	s := &state.State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// applyWrites executes writes in tx and collects the persisted values of saves
func applyWrites(tx *bbolt.Tx, writes []db.Write, saved map[uuid.UUID]map[string]any) error {
	for _, w := range writes {
		id := w.State.ID()
		switch w.Operation {
		case db.OpSave, db.OpSaveUnsafely:
			stored, err := get(tx, id)
			if err != nil {
				return err
			}
			values, err := w.State.Merge(stored)
			if err != nil {
				return err
			}
			row := state.NewWithID(w.State.Type(), id)
			row.SetValues(values)
			row.SetLastUpdate(w.State.LastUpdate())
			if err := put(tx, row); err != nil {
				return err
			}
			saved[id] = values
		case db.OpIndex:
			stored, err := get(tx, id)
			if err != nil || stored == nil {
				return err
			}
			stored.SetLastUpdate(w.State.LastUpdate())
			if err := put(tx, stored); err != nil {
				return err
			}
		case db.OpDelete:
			if err := remove(tx, id); err != nil {
				return err
			}
			delete(saved, id)
		default:
			return fmt.Errorf("invalid write operation %s", w.Operation)
		}
	}
	return nil
}

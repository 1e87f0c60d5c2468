package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "DPMEMDB\x00" // File format identifier
	memoryVersion = 1             // Snapshot version

	maxPreallocRows = 1 << 16
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// Engine keeps all rows in memory. Rows are stored as private copies, callers
// never share a *state.State with the engine.
type Engine struct {
	name  string
	clock func() time.Time

	mu   sync.RWMutex
	rows map[uuid.UUID]*state.State
}

// Options configures the memory engine
type Options struct {
	Name  string           // Name reported by the database (default "memory")
	Clock func() time.Time // Clock of the database (default time.Now)
}

// New creates an empty engine
func New(opts Options) *Engine {
	if opts.Name == "" {
		opts.Name = "memory"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		name:  opts.Name,
		clock: opts.Clock,
		rows:  map[uuid.UUID]*state.State{},
	}
}

// NewDatabase creates a database backed by a new memory engine
func NewDatabase(opts Options, dbOpts ...db.Option) *db.EngineDatabase {
	return db.NewDatabase(New(opts), dbOpts...)
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
	return nil
}

func (e *Engine) Select(ctx context.Context, q *query.Query) ([]*state.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return Select(q, func(yield func(*state.State) bool) {
		for _, s := range e.rows {
			if !yield(s) {
				return
			}
		}
	})
}

func (e *Engine) Apply(ctx context.Context, writes []db.Write, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return ApplyWrites(e.rows, writes)
}

// Len returns the number of rows
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rows)
}

// --------------------------------------------------------------------------
// Shared Helpers
// --------------------------------------------------------------------------

// Select matches every row produced by rows against q and returns sorted copies
// of the matching ones
func Select(q *query.Query, rows func(yield func(*state.State) bool)) ([]*state.State, error) {
	var (
		result []*state.State
		err    error
	)
	rows(func(s *state.State) bool {
		var ok bool
		if ok, err = query.MatchQuery(q, s); err != nil {
			return false
		}
		if ok {
			result = append(result, s.Clone())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := query.SortStates(q.Sorters(), result); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyWrites applies writes to rows as one batch. If any write fails, rows is
// left unchanged. Saved states get the persisted values.
func ApplyWrites(rows map[uuid.UUID]*state.State, writes []db.Write) error {
	// nil marks a deleted row
	staged := make(map[uuid.UUID]*state.State, len(writes))
	current := func(id uuid.UUID) *state.State {
		if s, ok := staged[id]; ok {
			return s
		}
		return rows[id]
	}

	for _, w := range writes {
		id := w.State.ID()
		switch w.Operation {
		case db.OpSave, db.OpSaveUnsafely:
			values, err := w.State.Merge(current(id))
			if err != nil {
				return err
			}
			row := state.NewWithID(w.State.Type(), id)
			row.SetValues(values)
			row.SetLastUpdate(w.State.LastUpdate())
			staged[id] = row
		case db.OpIndex:
			if stored := current(id); stored != nil {
				row := stored.Clone()
				row.SetLastUpdate(w.State.LastUpdate())
				staged[id] = row
			}
		case db.OpDelete:
			staged[id] = nil
		default:
			return fmt.Errorf("invalid write operation %s", w.Operation)
		}
	}

	for id, row := range staged {
		if row == nil {
			delete(rows, id)
		} else {
			rows[id] = row
		}
	}
	for _, w := range writes {
		if w.Operation == db.OpSave || w.Operation == db.OpSaveUnsafely {
			if row := rows[w.State.ID()]; row != nil {
				w.State.SetValues(row.Values())
			}
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot of all rows to w
func (e *Engine) Save(w io.Writer) error {
	e.mu.RLock()
	rows := make([]*state.State, 0, len(e.rows))
	for _, s := range e.rows {
		rows = append(rows, s.Clone())
	}
	e.mu.RUnlock()

	return WriteSnapshot(w, rows)
}

// Load replaces all rows by the snapshot read from r
func (e *Engine) Load(r io.Reader) error {
	rows, err := ReadSnapshot(r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = make(map[uuid.UUID]*state.State, len(rows))
	for _, s := range rows {
		e.rows[s.ID()] = s
	}
	return nil
}

// WriteSnapshot encodes rows in the snapshot format
func WriteSnapshot(w io.Writer, rows []*state.State) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(memoryVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(rows))); err != nil {
		return err
	}

	for _, s := range rows {
		data, err := json.Marshal(s)
		if err != nil {
			return errors.Wrapf(err, "encode %s", s)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot
func ReadSnapshot(r io.Reader) ([]*state.State, error) {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return nil, err
	}
	if string(magicBytes) != magicNum {
		return nil, fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if int(version) != memoryVersion {
		return nil, fmt.Errorf("unsupported version: %d (expected %d)", version, memoryVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	// count and length come from the file, the buffers grow with the data
	// actually read
	rows := make([]*state.State, 0, min(count, maxPreallocRows))
	var buf bytes.Buffer
	for i := uint64(0); i < count; i++ {
		var length uint32
		if err := binary.Read(br, binary.LittleEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "read length of row %d of %d", i, count)
		}
		buf.Reset()
		if n, err := io.CopyN(&buf, br, int64(length)); err != nil {
			return nil, errors.Wrapf(err, "row %d is truncated (%d of %d bytes)", i, n, length)
		}
		data := buf.Bytes()
		s := &state.State{}
		if err := json.Unmarshal(data, s); err != nil {
			return nil, errors.Wrapf(err, "decode row %d", i)
		}
		rows = append(rows, s)
	}
	return rows, nil
}

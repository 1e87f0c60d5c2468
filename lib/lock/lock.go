package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lock")

// TypeName is the record type of the lock rows
const TypeName = "lock"

const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 50 * time.Millisecond
)

var (
	// ErrReentrant is returned when a holder tries to acquire a lock it already holds
	ErrReentrant = errors.New("lock: already held by this holder")
	// ErrNotLocked is returned when unlocking a lock that is not held
	ErrNotLocked = errors.New("lock: not locked")
	// ErrNotOwner is returned when unlocking a lock that is held by another holder
	ErrNotOwner = errors.New("lock: held by another holder")
	// ErrLost is returned by Ping if the lock was stolen after a timeout
	ErrLost = errors.New("lock: lost to another instance")
)

// Options configures a lock
type Options struct {
	Timeout  time.Duration // Age of the last ping after which a lock is presumed abandoned
	Interval time.Duration // Poll interval of the blocking lock methods
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Lock is a distributed lock coordinated through a database
type Lock struct {
	database db.Database
	key      string
	keyID    uuid.UUID
	lockID   string
	opts     Options

	mu     sync.Mutex
	holder Holder

	// refs is maintained by the Registry
	refs int
}

// New creates a lock for key. Use the Registry to share one lock per key.
func New(database db.Database, key string, opts Options) *Lock {
	return &Lock{
		database: database,
		key:      key,
		keyID:    util.NameUUID(key),
		lockID:   uuid.NewString(),
		opts:     opts.withDefaults(),
	}
}

func (l *Lock) Key() string           { return l.key }
func (l *Lock) KeyID() uuid.UUID      { return l.keyID }
func (l *Lock) LockID() string        { return l.lockID }
func (l *Lock) String() string        { return "lock[" + l.key + "]" }
func (l *Lock) Options() Options      { return l.opts }
func (l *Lock) Database() db.Database { return l.database }

// Holder returns the local holder of the lock and whether it is held
func (l *Lock) Holder() (Holder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, !l.holder.isZero()
}

// --------------------------------------------------------------------------
// Row Access
// --------------------------------------------------------------------------

// readRow reads the coordination row, always from the primary and never from a cache
func (l *Lock) readRow(ctx context.Context) (*state.State, error) {
	return l.database.ReadFirst(db.WithPrimaryRead(ctx), query.ByID(TypeName, l.keyID).NoCache())
}

func lastPing(row *state.State) time.Time {
	ms, _ := util.ToInt64(row.Get("lastPing"))
	return time.UnixMilli(ms)
}

func (l *Lock) expired(row *state.State) bool {
	return l.database.Now().Sub(lastPing(row)) >= l.opts.Timeout
}

// claim writes this instance into the row, provided it did not change since it was read
func (l *Lock) claim(ctx context.Context, row *state.State) (bool, error) {
	row.Put("key", l.key)
	row.ReplaceAtomically("lockId", l.lockID)
	row.ReplaceAtomically("lastPing", l.database.Now().UnixMilli())

	err := db.SaveImmediately(ctx, l.database, row)
	if db.IsReplacementFailure(err) {
		return false, nil
	}
	return err == nil, err
}

// --------------------------------------------------------------------------
// Lock Methods
// --------------------------------------------------------------------------

// TryLock tries to acquire the lock once. It returns false if the lock is held
// by someone else.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	h := HolderFrom(ctx)

	l.mu.Lock()
	if l.holder == h {
		l.mu.Unlock()
		return false, ErrReentrant
	}
	l.mu.Unlock()

	row, err := l.readRow(ctx)
	if err != nil {
		return false, err
	}
	if row == nil {
		row = state.NewWithID(TypeName, l.keyID)
	} else if !l.expired(row) {
		return false, nil
	} else {
		log.Infof("%s: taking over abandoned lock of %v", l, row.Get("lockId"))
	}

	ok, err := l.claim(ctx, row)
	if !ok || err != nil {
		return false, err
	}

	l.mu.Lock()
	l.holder = h
	l.mu.Unlock()
	return true, nil
}

// Lock blocks until the lock is acquired. Cancellation of ctx is ignored,
// use LockInterruptibly for a cancellable wait.
func (l *Lock) Lock(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for {
		ok, err := l.TryLock(ctx)
		if ok || err != nil {
			return err
		}
		time.Sleep(l.opts.Interval)
	}
}

// LockInterruptibly blocks until the lock is acquired or ctx is done
func (l *Lock) LockInterruptibly(ctx context.Context) error {
	for {
		ok, err := l.TryLock(ctx)
		if ok || err != nil {
			return err
		}
		if err := sleep(ctx, l.opts.Interval); err != nil {
			return err
		}
	}
}

// TryLockFor polls for the lock until it is acquired or d has elapsed
func (l *Lock) TryLockFor(ctx context.Context, d time.Duration) (bool, error) {
	deadline := time.Now().Add(d)
	for {
		ok, err := l.TryLock(ctx)
		if ok || err != nil {
			return ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := sleep(ctx, min(remaining, l.opts.Interval)); err != nil {
			return false, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Unlock releases the lock. The row is deleted only if it still belongs to
// this instance.
func (l *Lock) Unlock(ctx context.Context) error {
	h := HolderFrom(ctx)

	l.mu.Lock()
	switch {
	case l.holder.isZero():
		l.mu.Unlock()
		return ErrNotLocked
	case l.holder != h:
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.mu.Unlock()

	// the holder stays set until the row is gone, so a failed release can be retried
	row, err := l.readRow(ctx)
	if err != nil {
		return err
	}
	if row == nil || !util.Equal(row.Get("lockId"), l.lockID) {
		log.Warningf("%s: lock was taken over before it was released", l)
		l.release(h)
		return nil
	}
	if err := db.DeleteImmediately(ctx, l.database, row); err != nil {
		return err
	}
	l.release(h)
	return nil
}

// release clears the holder if it is still h
func (l *Lock) release(h Holder) {
	l.mu.Lock()
	if l.holder == h {
		l.holder = Holder{}
	}
	l.mu.Unlock()
}

// Ping refreshes the last ping of a held lock so it is not taken over
func (l *Lock) Ping(ctx context.Context) error {
	h := HolderFrom(ctx)

	l.mu.Lock()
	held := l.holder == h
	l.mu.Unlock()
	if !held {
		return ErrNotOwner
	}

	row, err := l.readRow(ctx)
	if err != nil {
		return err
	}
	if row == nil || !util.Equal(row.Get("lockId"), l.lockID) {
		return ErrLost
	}
	ok, err := l.claim(ctx, row)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLost
	}
	return nil
}

// NewCondition is not supported by distributed locks
func (l *Lock) NewCondition() (*sync.Cond, error) {
	return nil, errors.ErrUnsupported
}

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// Status describes the coordination row of a lock
type Status struct {
	Key      string
	Locked   bool
	LockID   string
	LastPing time.Time
	Expired  bool
}

// Status reads the current state of the lock from the database
func (l *Lock) Status(ctx context.Context) (Status, error) {
	st := Status{Key: l.key}
	row, err := l.readRow(ctx)
	if err != nil || row == nil {
		return st, err
	}
	st.LockID = util.ToString(row.Get("lockId"))
	st.LastPing = lastPing(row)
	st.Expired = l.expired(row)
	st.Locked = !st.Expired
	return st, nil
}

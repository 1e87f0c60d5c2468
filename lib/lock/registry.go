package lock

import (
	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
)

type registryKey struct {
	database db.Database
	key      string
}

// Registry interns one Lock per database and key. Locks are reference counted:
// every Get must be paired with a Release, the lock is dropped from the
// registry when the last user released it.
type Registry struct {
	opts  Options
	locks *xsync.MapOf[registryKey, *Lock]
}

// NewRegistry creates a registry whose locks use opts
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		locks: xsync.NewMapOf[registryKey, *Lock](),
	}
}

// DefaultRegistry is used by the package level Get and Release
var DefaultRegistry = NewRegistry(Options{})

// Get returns the shared lock for key on database
func (r *Registry) Get(database db.Database, key string) *Lock {
	l, _ := r.locks.Compute(registryKey{database, key}, func(old *Lock, loaded bool) (*Lock, bool) {
		if !loaded {
			old = New(database, key, r.opts)
		}
		old.refs++
		return old, false
	})
	return l
}

// Release gives up one reference to l
func (r *Registry) Release(l *Lock) {
	r.locks.Compute(registryKey{l.database, l.key}, func(old *Lock, loaded bool) (*Lock, bool) {
		if !loaded || old != l {
			return old, !loaded
		}
		old.refs--
		return old, old.refs <= 0
	})
}

// Len returns the number of interned locks
func (r *Registry) Len() int {
	return r.locks.Size()
}

// Get returns the shared lock for key from the DefaultRegistry
func Get(database db.Database, key string) *Lock {
	return DefaultRegistry.Get(database, key)
}

// Release releases a lock obtained with Get
func Release(l *Lock) {
	DefaultRegistry.Release(l)
}

package db

import "context"

type ctxKey int

const (
	defaultDatabaseKey ctxKey = iota
	primaryReadKey
)

// WithDefault returns a context that carries a default database. Code that does
// not receive a database explicitly looks it up with Default.
func WithDefault(ctx context.Context, d Database) context.Context {
	return context.WithValue(ctx, defaultDatabaseKey, d)
}

// Default returns the database stored with WithDefault
func Default(ctx context.Context) (Database, bool) {
	d, ok := ctx.Value(defaultDatabaseKey).(Database)
	return d, ok && d != nil
}

// WithPrimaryRead marks all reads issued with the returned context as reads that
// must see the authoritative value: caches and read replicas are bypassed.
func WithPrimaryRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryReadKey, true)
}

// IsPrimaryRead reports whether reads must bypass caches and replicas
func IsPrimaryRead(ctx context.Context) bool {
	v, _ := ctx.Value(primaryReadKey).(bool)
	return v
}

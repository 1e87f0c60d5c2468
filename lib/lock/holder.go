package lock

import (
	"context"

	"github.com/google/uuid"
)

// Holder identifies who holds a lock within this process
type Holder struct {
	id uuid.UUID
}

// NewHolder creates a new, unique holder
func NewHolder() Holder {
	return Holder{id: uuid.New()}
}

func (h Holder) String() string {
	return h.id.String()
}

func (h Holder) isZero() bool {
	return h.id == uuid.Nil
}

type holderKey struct{}

// defaultHolder holds locks acquired with contexts without a holder. All such
// callers are one owner to the lock.
var defaultHolder = NewHolder()

// WithHolder returns a context that acquires and releases locks as h
func WithHolder(ctx context.Context, h Holder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// HolderFrom returns the holder carried by ctx or the process default holder.
// Concurrent callers that need mutual exclusion among themselves must use
// WithHolder.
func HolderFrom(ctx context.Context) Holder {
	if h, ok := ctx.Value(holderKey{}).(Holder); ok && !h.isZero() {
		return h
	}
	return defaultHolder
}

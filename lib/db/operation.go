package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dPersist/lib/state"
)

// WriteOperation is one of the write operations a pipeline can apply uniformly
// to every record
type WriteOperation int

const (
	OpSave WriteOperation = iota
	OpSaveUnsafely
	OpIndex
	OpDelete
)

func (o WriteOperation) String() string {
	switch o {
	case OpSave:
		return "save"
	case OpSaveUnsafely:
		return "saveUnsafely"
	case OpIndex:
		return "index"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// ParseWriteOperation parses the String form of a write operation (case insensitive)
func ParseWriteOperation(s string) (WriteOperation, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "save":
		return OpSave, nil
	case "saveunsafely":
		return OpSaveUnsafely, nil
	case "index":
		return OpIndex, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("invalid write operation %q (expected save, save-unsafely, index or delete)", s)
	}
}

// Execute applies the operation to s through d
func (o WriteOperation) Execute(ctx context.Context, d Database, s *state.State) error {
	switch o {
	case OpSave:
		return d.Save(ctx, s)
	case OpSaveUnsafely:
		return d.SaveUnsafely(ctx, s)
	case OpIndex:
		return d.Index(ctx, s)
	case OpDelete:
		return d.Delete(ctx, s)
	default:
		return fmt.Errorf("invalid write operation %d", int(o))
	}
}

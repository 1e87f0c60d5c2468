package db

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Error Types
// --------------------------------------------------------------------------

// RetCode classifies database errors. The codes are stable, they travel over
// the rpc protocol and through raft results.
type RetCode int

const (
	RetCSuccess RetCode = iota
	RetCInternalError
	RetCRecoverable
	RetCReadTimeout
	RetCUnsupportedOperation
	RetCInvalidOperation
	RetCReplacementFailed
	RetCValidation
	RetCNotFound
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "success"
	case RetCInternalError:
		return "internal error"
	case RetCRecoverable:
		return "recoverable error"
	case RetCReadTimeout:
		return "read timeout"
	case RetCUnsupportedOperation:
		return "unsupported operation"
	case RetCInvalidOperation:
		return "invalid operation"
	case RetCReplacementFailed:
		return "replacement failed"
	case RetCValidation:
		return "validation failed"
	case RetCNotFound:
		return "not found"
	default:
		return fmt.Sprintf("unknown (%d)", int(c))
	}
}

// Error wraps every failure of a database with a reference to that database
type Error struct {
	Database Database
	Code     RetCode
	Msg      string
	cause    error
}

// NewError creates a new database error. cause may be nil.
func NewError(d Database, code RetCode, msg string, cause error) *Error {
	return &Error{Database: d, Code: code, Msg: msg, cause: cause}
}

func (e *Error) Error() string {
	name := "?"
	if e.Database != nil {
		name = e.Database.Name()
	}
	if e.cause != nil {
		return fmt.Sprintf("database [%s]: %s: %v", name, e.Msg, e.cause)
	}
	return fmt.Sprintf("database [%s]: %s", name, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Recoverable reports whether retrying the operation may succeed
func (e *Error) Recoverable() bool {
	return e.Code == RetCRecoverable || e.Code == RetCReadTimeout
}

// IsRecoverable reports whether err is a database error that is safe to retry
func IsRecoverable(err error) bool {
	var dbErr *Error
	return errors.As(err, &dbErr) && dbErr.Recoverable()
}

// IsReadTimeout reports whether err is a database read timeout
func IsReadTimeout(err error) bool {
	var dbErr *Error
	return errors.As(err, &dbErr) && dbErr.Code == RetCReadTimeout
}

// IsReplacementFailure reports whether err is caused by a lost compare-and-swap
func IsReplacementFailure(err error) bool {
	var replacement *state.ReplacementError
	return errors.As(err, &replacement)
}

// UnsupportedPredicateError is returned by databases that can not handle a predicate
type UnsupportedPredicateError struct {
	Database  Database
	Predicate query.Predicate
}

func (e *UnsupportedPredicateError) Error() string {
	return fmt.Sprintf("database [%s] can't handle predicate [%s]", e.Database.Name(), e.Predicate)
}

// UnsupportedSorterError is returned by databases that can not handle a sorter
type UnsupportedSorterError struct {
	Database Database
	Sorter   query.Sorter
}

func (e *UnsupportedSorterError) Error() string {
	return fmt.Sprintf("database [%s] can't handle sorter [%s]", e.Database.Name(), e.Sorter)
}

// WrapError converts an error returned by an engine or a transport into the
// error types of this package. Errors that already are database errors are
// returned unchanged.
func WrapError(d Database, err error) error {
	if err == nil {
		return nil
	}

	var (
		dbErr       *Error
		predErr     *UnsupportedPredicateError
		sortErr     *UnsupportedSorterError
		replacement *state.ReplacementError
		opErr       *query.UnsupportedOperatorError
		sorterErr   *query.UnsupportedSorterError
	)
	switch {
	case errors.As(err, &dbErr), errors.As(err, &predErr), errors.As(err, &sortErr):
		return err
	case errors.As(err, &replacement):
		return NewError(d, RetCReplacementFailed, "atomic replace failed", err)
	case errors.As(err, &opErr):
		return &UnsupportedPredicateError{Database: d, Predicate: opErr.Predicate}
	case errors.As(err, &sorterErr):
		return &UnsupportedSorterError{Database: d, Sorter: sorterErr.Sorter}
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(d, RetCReadTimeout, "operation timed out", err)
	default:
		return NewError(d, RetCInternalError, "operation failed", err)
	}
}

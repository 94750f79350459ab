package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// ErrConflict is the sentinel every ConflictError unwraps to, so callers can
// match with errors.Is without holding the concrete type.
var ErrConflict = errors.New("version conflict")

// ConflictError reports a failed optimistic update: the caller supplied the
// version it last read, and the stored row has moved on since. The caller is
// expected to re-read and retry; the conflicting write is never overwritten
// silently.
type ConflictError struct {
	Kind     string
	ID       RecordID
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected version %d, stored version is %d",
		e.Kind, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

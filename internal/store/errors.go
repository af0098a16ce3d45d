package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by read accessors when no record exists for
// the requested key. The API layer maps it to a 404.
var ErrNotFound = errors.New("record not found")

// PersistError reports a storage-layer write failure. The fetched data
// for the cycle is dropped; the next scheduled fetch refreshes it.
type PersistError struct {
	Collection string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist to %s failed: %v", e.Collection, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

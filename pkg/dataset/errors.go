package dataset

import (
	"errors"
	"fmt"
)

// Sentinel errors for dataset failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrStorage indicates the underlying store could not be written or read.
	ErrStorage = errors.New("dataset: storage unavailable")

	// ErrMalformed indicates a stored row could not be parsed.
	ErrMalformed = errors.New("dataset: malformed record")
)

// StorageError describes a failed storage operation.
// errors.Is(err, ErrStorage) is true for every StorageError.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("dataset: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dataset: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

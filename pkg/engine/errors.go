package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for rejected lifecycle operations.
// Callers should use errors.Is() to check for these.
var (
	// ErrLifecycle is wrapped by every rejected Start or Stop.
	ErrLifecycle = errors.New("engine: lifecycle violation")

	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = fmt.Errorf("%w: a fuzzing scan is already running", ErrLifecycle)

	// ErrNotRunning is returned by Stop when no run is in progress.
	ErrNotRunning = fmt.Errorf("%w: no active fuzzing scan to stop", ErrLifecycle)
)

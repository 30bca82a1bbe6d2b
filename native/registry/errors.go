package registry

import "errors"

// Base errors classify every rejection so callers can decide whether to retry
// with different inputs, re-read state, or give up. Operations wrap these with
// the precondition that failed.
var (
	// ErrValidation marks malformed input. Never retried automatically.
	ErrValidation = errors.New("registry: validation failed")
	// ErrStateConflict marks an operation that is not legal in the
	// instrument's current lifecycle state.
	ErrStateConflict = errors.New("registry: state conflict")
	// ErrNotFound marks an unknown instrument id.
	ErrNotFound = errors.New("registry: instrument not found")

	errNilState = errors.New("registry: state not configured")
)

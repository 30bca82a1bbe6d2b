package fund

import "errors"

var (
	// ErrValidation marks malformed input. Never retried automatically.
	ErrValidation = errors.New("fund: validation failed")
	// ErrStateConflict marks an operation that is not legal given the
	// current fund or instrument state.
	ErrStateConflict = errors.New("fund: state conflict")
	// ErrNotFound marks an unknown fund, allocation, or principal.
	ErrNotFound = errors.New("fund: not found")
	// ErrUnauthorized marks a compliance gate rejection.
	ErrUnauthorized = errors.New("fund: principal not authorized")

	errNilState    = errors.New("fund: state not configured")
	errNilRegistry = errors.New("fund: registry not configured")
)

package store

import "errors"

// Error kinds. Store methods wrap one of these so handlers can classify
// failures with errors.Is and turn them into structured payloads instead
// of propagating. Anything that doesn't match is a storage-level failure.
var (
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation means an input failed validation (bad enum value,
	// empty required field, malformed id).
	ErrValidation = errors.New("validation failed")

	// ErrState means the operation is forbidden in the entity's current
	// state, e.g. appending a message to a non-active session.
	ErrState = errors.New("invalid state")

	// ErrCycle means a task re-parent would violate the forest invariant.
	ErrCycle = errors.New("task hierarchy cycle")
)

package hyper

import "errors"

// Sentinel errors shared by the index, the resolver and store implementations.
var (
	// ErrDuplicateName is returned when a logical name is already taken
	// within its (bucket, key) scope.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNotFound means an index entry that an event refers to does not exist.
	// Seeing it while applying a rename or delete points at an ordering bug.
	ErrNotFound = errors.New("entry not found")

	// ErrRetriesExhausted is returned when the collision resolver gives up.
	ErrRetriesExhausted = errors.New("collision retries exhausted")

	// ErrInvalidPath is returned for paths that cannot be mapped onto the hierarchy.
	ErrInvalidPath = errors.New("invalid path")
)

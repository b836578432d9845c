package importer

import "errors"

var (
	// ErrNotFound is returned for an unknown import.
	ErrNotFound = errors.New("import not found")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the import's current state.
	ErrInvalidTransition = errors.New("invalid import state transition")
	// ErrInvalidSettings wraps validation failures of import or upload input.
	ErrInvalidSettings = errors.New("invalid settings")
)

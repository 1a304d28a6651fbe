package route

import "errors"

var (
	// ErrInvalidTemplate is returned for templates that are empty, relative, or contain
	// malformed segments.
	ErrInvalidTemplate = errors.New("invalid route template")
	// ErrConflictingParam is returned when two templates declare differently named
	// parameters at the same position of the same prefix.
	ErrConflictingParam = errors.New("conflicting route parameter")
)

// Package directory holds what the [tiergate.Directory] implementations share. The
// implementations live in the memory and sqlstore subpackages.
package directory

import "errors"

var (
	// ErrDuplicate is returned when a write collides with a unique value (id, tier
	// name, username, email, API key hash, or one rule per tier and path).
	ErrDuplicate = errors.New("duplicate record")
	// ErrUnknownTier is returned when a user or rule references a tier that does not exist.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrUnknownUser is returned by mutations on a user id that does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

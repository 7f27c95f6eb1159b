package entity

import "errors"

// Domain errors for the entity package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, entity.ErrServerNotFound) {
//	    // first run against this server
//	}
var (
	// ErrServerNotFound is returned when no server row matches host and port.
	ErrServerNotFound = errors.New("entity: server not found")

	// ErrEntityNotFound is returned when an entity key is not registered.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrInvalidEntity is returned when an entity is missing its key or kind.
	ErrInvalidEntity = errors.New("entity: invalid")

	// ErrUnsupportedVersion is returned for config versions newer than
	// CurrentConfigVersion.
	ErrUnsupportedVersion = errors.New("entity: unsupported config version")
)

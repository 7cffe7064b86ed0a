package enforcer

import "errors"

var (
	// ErrEnforcerNotFound is returned when a command names an entity
	// without an enforcer.
	ErrEnforcerNotFound = errors.New("enforcer: not found")

	// ErrEnforcerExists is returned when creating an enforcer twice.
	ErrEnforcerExists = errors.New("enforcer: already exists")

	// ErrInvalidCommand is returned for a command missing its entity or service.
	ErrInvalidCommand = errors.New("enforcer: invalid command")
)

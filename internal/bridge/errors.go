package bridge

import "errors"

var (
	// ErrInvalidService is returned when a service name is not <domain>.<name>.
	ErrInvalidService = errors.New("bridge: invalid service name")

	// ErrInvalidMessage is returned when an inbound payload cannot be decoded.
	ErrInvalidMessage = errors.New("bridge: invalid message")
)

package zone

import "errors"

// Domain errors for the zone package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, zone.ErrInvalidConfig) {
//	    // reject the controller, keep the others running
//	}
var (
	// ErrInvalidConfig is returned when a controller definition cannot be built.
	ErrInvalidConfig = errors.New("zone: invalid configuration")

	// ErrUnknownMode is returned when a node names a mode that does not exist.
	// It is always wrapped together with ErrInvalidConfig.
	ErrUnknownMode = errors.New("zone: unknown mode")

	// ErrUnknownEvent is returned when an inbound event type is not recognised.
	ErrUnknownEvent = errors.New("zone: unknown event type")

	// ErrActionFailed is returned when an action port call fails. The
	// transition is aborted and the state is not written.
	ErrActionFailed = errors.New("zone: action failed")

	// ErrControllerNotFound is returned when an event names an unknown controller.
	ErrControllerNotFound = errors.New("zone: controller not found")

	// ErrControllerExists is returned when creating a controller twice.
	ErrControllerExists = errors.New("zone: controller already exists")

	// ErrClosed is returned when delivering to a controller that has been destroyed.
	ErrClosed = errors.New("zone: controller closed")
)

// RejectedError reports a single definition that could not be used. Other
// definitions of the same file or Apply call are unaffected.
type RejectedError struct {
	// Name is the controller name, or enforcers[i] for an enforcer entry.
	Name string
	Err  error
}

// Error returns the underlying message, which already names the definition.
func (e *RejectedError) Error() string { return e.Err.Error() }

func (e *RejectedError) Unwrap() error { return e.Err }

// Rejections lists the definitions err reports as rejected, keyed by name.
// ok is false when err holds anything that is not confined to a single
// definition, for example an unreadable file.
func Rejections(err error) (rejected map[string]error, ok bool) {
	rejected = make(map[string]error)
	return rejected, collectRejections(err, rejected)
}

func collectRejections(err error, into map[string]error) bool {
	if err == nil {
		return true
	}
	if joined, isJoin := err.(interface{ Unwrap() []error }); isJoin {
		ok := true
		for _, e := range joined.Unwrap() {
			if !collectRejections(e, into) {
				ok = false
			}
		}
		return ok
	}

	var re *RejectedError
	if !errors.As(err, &re) {
		return false
	}
	if prev, seen := into[re.Name]; seen {
		into[re.Name] = errors.Join(prev, re.Err)
	} else {
		into[re.Name] = re.Err
	}
	return true
}

package zone

import (
	"fmt"
	"time"
)

// State is the persisted state of a zone controller.
type State string

// Controller states.
const (
	StateAutoOn   State = "auto_on"
	StateManualOn State = "manual_on"
	StateDim      State = "dim"
	StateOff      State = "off"
)

// States lists every controller state.
var States = []State{StateAutoOn, StateManualOn, StateDim, StateOff}

// ParseState converts a stored value into a State. An empty or unknown
// value reads as StateOff so that a controller with no stored state
// starts switched off.
func ParseState(v string) State {
	switch State(v) {
	case StateAutoOn, StateManualOn, StateDim, StateOff:
		return State(v)
	default:
		return StateOff
	}
}

// EventType identifies a stimulus delivered to a controller.
type EventType string

// Event types. EventTimer is generated internally when a scheduled timer fires.
const (
	EventToggle    EventType = "toggle"
	EventManualOn  EventType = "manual_on"
	EventManualOff EventType = "manual_off"
	EventMovement  EventType = "movement"
	EventTimer     EventType = "timer"
)

// ParseEventType validates an inbound event type.
func ParseEventType(v string) (EventType, error) {
	switch EventType(v) {
	case EventToggle, EventManualOn, EventManualOff, EventMovement, EventTimer:
		return EventType(v), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, v)
	}
}

// Event is one stimulus for a controller.
type Event struct {
	Type    EventType
	Payload map[string]any

	// generation is set on timer events so stale expiries can be dropped.
	generation uint64
}

// NewEvent returns an event with the given type and payload.
func NewEvent(t EventType, payload map[string]any) Event {
	return Event{Type: t, Payload: payload}
}

// TransitionKey is the lookup key of a strategy table.
type TransitionKey struct {
	State State
	Event EventType
}

func (k TransitionKey) String() string {
	return string(k.State) + "/" + string(k.Event)
}

// Transition describes a state change made by a dispatcher. Observers
// receive one per handled event.
type Transition struct {
	Controller string    `json:"controller"`
	EntityID   string    `json:"entity_id"`
	Event      EventType `json:"event"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	At         time.Time `json:"at"`
}

// Logger is the logging interface used by the zone package.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

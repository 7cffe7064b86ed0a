package zone

import (
	"fmt"
	"sort"
	"time"
)

// Handler is what a strategy does for one transition: run an action list,
// optionally schedule the timer, then write the target state.
type Handler struct {
	Target   State
	Actions  ActionKind
	Schedule time.Duration // zero leaves the timer cancelled
}

// Strategy is an ordered transition table. Setting a key that already
// exists overwrites its handler.
type Strategy struct {
	name     string
	handlers map[TransitionKey]Handler
	keys     []TransitionKey
}

// NewStrategy returns an empty strategy.
func NewStrategy(name string) *Strategy {
	return &Strategy{name: name, handlers: make(map[TransitionKey]Handler)}
}

// Name returns the strategy name used in logs.
func (s *Strategy) Name() string { return s.name }

// SetHandler registers h for every combination of states and events.
func (s *Strategy) SetHandler(states []State, events []EventType, h Handler) {
	for _, st := range states {
		for _, ev := range events {
			key := TransitionKey{State: st, Event: ev}
			if _, exists := s.handlers[key]; !exists {
				s.keys = append(s.keys, key)
			}
			s.handlers[key] = h
		}
	}
}

// Lookup returns the handler for key.
func (s *Strategy) Lookup(key TransitionKey) (Handler, bool) {
	h, ok := s.handlers[key]
	return h, ok
}

// Keys returns the registered keys in registration order.
func (s *Strategy) Keys() []TransitionKey {
	out := make([]TransitionKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// Durations configures the movement strategies.
type Durations struct {
	On  time.Duration
	Dim time.Duration // falls back to On when zero
}

func (d Durations) dim() time.Duration {
	if d.Dim > 0 {
		return d.Dim
	}
	return d.On
}

// ManualStrategy handles wall switches and explicit on/off commands.
func ManualStrategy() *Strategy {
	s := NewStrategy("manual")
	s.SetHandler([]State{StateOff, StateDim}, []EventType{EventToggle},
		Handler{Target: StateManualOn, Actions: ActionOn})
	s.SetHandler([]State{StateAutoOn, StateManualOn}, []EventType{EventToggle},
		Handler{Target: StateOff, Actions: ActionOff})
	s.SetHandler(States, []EventType{EventManualOn},
		Handler{Target: StateManualOn, Actions: ActionOn})
	s.SetHandler(States, []EventType{EventManualOff},
		Handler{Target: StateOff, Actions: ActionOff})
	return s
}

// SimpleMovementStrategy turns the zone on with movement and off when the
// timer expires. A manually switched zone ignores movement.
func SimpleMovementStrategy(d Durations) *Strategy {
	s := NewStrategy("simple_movement")
	addSimpleMovement(s, d)
	return s
}

func addSimpleMovement(s *Strategy, d Durations) {
	auto := []State{StateAutoOn, StateDim, StateOff}
	s.SetHandler(auto, []EventType{EventMovement},
		Handler{Target: StateAutoOn, Actions: ActionOn, Schedule: d.On})
	s.SetHandler(auto, []EventType{EventTimer},
		Handler{Target: StateOff, Actions: ActionOff})
}

// DimMovementStrategy is SimpleMovementStrategy with a dim stage between
// auto-on and off.
func DimMovementStrategy(d Durations) *Strategy {
	s := NewStrategy("dim_movement")
	addSimpleMovement(s, d)
	s.SetHandler([]State{StateAutoOn}, []EventType{EventTimer},
		Handler{Target: StateDim, Actions: ActionDim, Schedule: d.dim()})
	s.SetHandler([]State{StateDim}, []EventType{EventTimer},
		Handler{Target: StateOff, Actions: ActionOff})
	return s
}

// Modes.
const (
	ModeSimple = "simple"
	ModeDim    = "dim"
	ModeDummy  = "dummy"
)

var modes = map[string]func(Durations) []*Strategy{
	ModeSimple: func(d Durations) []*Strategy {
		return []*Strategy{ManualStrategy(), SimpleMovementStrategy(d)}
	},
	ModeDim: func(d Durations) []*Strategy {
		return []*Strategy{ManualStrategy(), DimMovementStrategy(d)}
	},
	ModeDummy: func(Durations) []*Strategy {
		return nil
	},
}

// StrategiesForMode returns the ordered strategy list of a mode.
func StrategiesForMode(mode string, d Durations) ([]*Strategy, error) {
	build, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnknownMode, mode)
	}
	return build(d), nil
}

// Modes returns the known mode names, sorted.
func Modes() []string {
	out := make([]string, 0, len(modes))
	for m := range modes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

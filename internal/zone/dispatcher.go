package zone

import (
	"context"
	"fmt"
	"time"
)

// TreeContext is shared by every node of one controller's tree.
type TreeContext struct {
	Controller string
	EntityID   string
	Store      StateStore
	Timer      Timer
	Logger     Logger

	// OnTransition is called after each successful state write. May be nil.
	OnTransition func(Transition)

	// Now defaults to time.Now.
	Now func() time.Time
}

func (tc *TreeContext) now() time.Time {
	if tc.Now != nil {
		return tc.Now()
	}
	return time.Now()
}

func (tc *TreeContext) logger() Logger {
	if tc.Logger == nil {
		return noopLogger{}
	}
	return tc.Logger
}

// CurrentState reads the controller state from the store.
func (tc *TreeContext) CurrentState(ctx context.Context) (State, error) {
	v, _, err := tc.Store.Get(ctx, tc.EntityID)
	if err != nil {
		return "", fmt.Errorf("reading state of %s: %w", tc.EntityID, err)
	}
	return ParseState(v), nil
}

// Dispatcher maps (current state, event) to a handler using an ordered list
// of strategies. The first strategy with a handler for the key wins.
type Dispatcher struct {
	tc         *TreeContext
	executor   *ActionExecutor
	strategies []*Strategy
}

// NewDispatcher binds strategies and an action executor to a tree context.
func NewDispatcher(tc *TreeContext, executor *ActionExecutor, strategies ...*Strategy) *Dispatcher {
	return &Dispatcher{tc: tc, executor: executor, strategies: strategies}
}

// Lookup returns the first handler registered for key and the strategy it
// came from.
func (d *Dispatcher) Lookup(key TransitionKey) (Handler, *Strategy, bool) {
	for _, s := range d.strategies {
		if h, ok := s.Lookup(key); ok {
			return h, s, true
		}
	}
	return Handler{}, nil, false
}

// Dispatch handles ev against the current persisted state.
//
// On a match it cancels the pending timer, runs the handler's actions,
// writes the target state exactly once and then schedules the timer if the
// handler asks for it. A failed action or state write aborts the transition
// with no timer pending. No match is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	log := d.tc.logger()

	from, err := d.tc.CurrentState(ctx)
	if err != nil {
		return err
	}

	key := TransitionKey{State: from, Event: ev.Type}
	h, strategy, ok := d.Lookup(key)
	if !ok {
		dispatchMisses.WithLabelValues(d.tc.Controller).Inc()
		log.Debug("no handler for transition",
			"controller", d.tc.Controller,
			"key", key.String(),
		)
		return nil
	}

	d.tc.Timer.Cancel()

	if err := d.executor.Run(ctx, h.Actions); err != nil {
		actionFailures.WithLabelValues(d.tc.Controller).Inc()
		return err
	}

	if err := d.tc.Store.Set(ctx, d.tc.EntityID, string(h.Target), nil); err != nil {
		return fmt.Errorf("writing state of %s: %w", d.tc.EntityID, err)
	}

	// Armed only once the target state is stored, so a failed write never
	// leaves an expiry aimed at the old state.
	if h.Schedule > 0 {
		d.tc.Timer.Schedule(h.Schedule)
	}

	transitions.WithLabelValues(d.tc.Controller, string(ev.Type), string(h.Target)).Inc()
	log.Info("zone transition",
		"controller", d.tc.Controller,
		"strategy", strategy.Name(),
		"event", string(ev.Type),
		"from", string(from),
		"to", string(h.Target),
	)

	if d.tc.OnTransition != nil {
		d.tc.OnTransition(Transition{
			Controller: d.tc.Controller,
			EntityID:   d.tc.EntityID,
			Event:      ev.Type,
			From:       from,
			To:         h.Target,
			At:         d.tc.now(),
		})
	}
	return nil
}

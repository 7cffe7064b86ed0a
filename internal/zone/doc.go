// Package zone implements hierarchical zone controllers.
//
// A controller owns one zone (a room, a corridor) and decides, for each
// event, which actions to run and which state to persist. Its behaviour is
// defined by an override tree:
//
//	base (type: dim)
//	├── overrides[0] (condition: night)   type: simple
//	└── overrides[1] (condition: cinema)  type: dummy
//
// An event enters at the base node. Overrides are tried in declared order
// and the first one whose condition holds takes the event; a node whose
// overrides all decline handles the event with its own dispatcher. A dummy
// node has no transitions, so an active dummy override swallows events.
//
// A dispatcher looks up (current state, event) in its ordered strategies
// (manual, simple movement, dim movement). A matching handler cancels the
// controller timer, runs the node's on, dim or off actions concurrently,
// re-arms the timer when the handler asks for it and writes the new state.
// A failed action leaves the state untouched.
//
// Each controller processes its events on a single goroutine, so timer
// expiries, wall switches and motion never interleave. Timer expiries that
// were superseded by a later schedule or cancel are dropped.
//
// Usage:
//
//	reg := zone.NewRegistry(zone.RegistryDeps{Store: store, Actions: bridge, Scenes: bridge})
//	f, err := zone.LoadConfig("configs/zones.yaml")
//	if f == nil {
//	    return err
//	}
//	if err := errors.Join(err, reg.Apply(ctx, f)); err != nil {
//	    logger.Error("some controllers rejected", "error", err)
//	}
//	err = reg.Deliver(ctx, "hallway", zone.NewEvent(zone.EventMovement, nil))
package zone

package zone

import (
	"context"
	"fmt"
	"sync"
)

// DefaultQueueSize is the event queue depth used when none is configured.
const DefaultQueueSize = 64

// EntityID returns the state entity of the controller called name.
func EntityID(name string) string {
	return "zone." + name
}

type envelope struct {
	ev     Event
	result chan error
}

// Controller runs one zone. All events, including timer expiries, go
// through a single worker goroutine so that each event is processed to
// completion before the next one starts.
//
// Thread Safety: Handle, Post and Close are safe for concurrent use.
type Controller struct {
	name   string
	config ControllerConfig
	tc     *TreeContext
	root   *Node
	timer  *generationTimer
	logger Logger

	queue chan envelope

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ControllerDeps are the collaborators of a controller.
type ControllerDeps struct {
	Store        StateStore
	Actions      ActionPort
	Scenes       ScenePort
	Conditions   ConditionCompiler
	Logger       Logger
	QueueSize    int
	OnTransition func(Transition)
}

// NewController builds the override tree, resets the controller state to
// off and starts the worker.
func NewController(ctx context.Context, name string, cfg ControllerConfig, deps ControllerDeps) (*Controller, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: controller name %q", ErrInvalidConfig, name)
	}
	if err := cfg.Base.validate(name, true); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	c := &Controller{
		name:   name,
		config: cfg,
		logger: logger,
		queue:  make(chan envelope, queueSize),
		done:   make(chan struct{}),
	}
	c.timer = newGenerationTimer(c.timerFired)
	c.tc = &TreeContext{
		Controller:   name,
		EntityID:     EntityID(name),
		Store:        deps.Store,
		Timer:        c.timer,
		Logger:       logger,
		OnTransition: deps.OnTransition,
	}

	root, err := BuildTree(cfg.Base, TreeDeps{
		Context:    c.tc,
		Actions:    deps.Actions,
		Scenes:     deps.Scenes,
		Conditions: deps.Conditions,
	})
	if err != nil {
		return nil, err
	}
	c.root = root

	if err := deps.Store.Set(ctx, c.tc.EntityID, string(StateOff), nil); err != nil {
		return nil, fmt.Errorf("initialising state of %s: %w", c.tc.EntityID, err)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.run()

	return c, nil
}

// Name returns the controller name.
func (c *Controller) Name() string { return c.name }

// EntityID returns the entity the controller state is stored under.
func (c *Controller) EntityID() string { return c.tc.EntityID }

// Config returns the definition the controller was built from.
func (c *Controller) Config() ControllerConfig { return c.config }

// State reads the current state from the store.
func (c *Controller) State(ctx context.Context) (State, error) {
	return c.tc.CurrentState(ctx)
}

// TimerPending reports whether a timer expiry is scheduled.
func (c *Controller) TimerPending() bool { return c.timer.Pending() }

// Handle queues ev and waits until the worker has processed it. The
// returned error is the dispatch error, if any. ctx only bounds the wait;
// an event that has been queued is always processed.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	env := envelope{ev: ev, result: make(chan error, 1)}

	select {
	case c.queue <- env:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-env.result:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues ev without waiting for the result.
func (c *Controller) Post(ev Event) error {
	select {
	case c.queue <- envelope{ev: ev}:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("zone: %s queue full, %s event dropped", c.name, ev.Type)
	}
}

// timerFired runs on the timer goroutine and blocks until the expiry is
// queued or the controller stops.
func (c *Controller) timerFired(gen uint64) {
	select {
	case c.queue <- envelope{ev: Event{Type: EventTimer, generation: gen}}:
	case <-c.done:
	}
}

func (c *Controller) run() {
	for {
		select {
		case env := <-c.queue:
			err := c.process(env.ev)
			if env.result != nil {
				env.result <- err
			}
		case <-c.ctx.Done():
			close(c.done)
			return
		}
	}
}

func (c *Controller) process(ev Event) error {
	if ev.Type == EventTimer && ev.generation != 0 && !c.timer.Current(ev.generation) {
		staleTimerEvents.WithLabelValues(c.name).Inc()
		c.logger.Debug("dropping superseded timer expiry", "controller", c.name)
		return nil
	}

	handled, err := c.root.Resolve(c.ctx, ev)
	if err != nil {
		c.logger.Error("zone event failed",
			"controller", c.name,
			"event", string(ev.Type),
			"error", err,
		)
		return err
	}
	if !handled {
		c.logger.Debug("zone event not handled", "controller", c.name, "event", string(ev.Type))
	}
	return nil
}

// Close cancels the timer and stops the worker. Queued events that have
// not started are discarded.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.timer.Cancel()
		c.cancel()
		<-c.done
	})
}

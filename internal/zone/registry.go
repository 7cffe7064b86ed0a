package zone

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// RegistryDeps are shared by every controller of a registry.
type RegistryDeps struct {
	Store      StateStore
	Actions    ActionPort
	Scenes     ScenePort
	Conditions ConditionCompiler
	QueueSize  int
}

// Registry owns the running controllers and routes events to them by name.
//
// All public methods are thread-safe.
type Registry struct {
	deps   RegistryDeps
	logger Logger

	mu          sync.RWMutex
	controllers map[string]*Controller

	observerMu sync.RWMutex
	observers  []func(Transition)
}

// NewRegistry creates an empty registry.
func NewRegistry(deps RegistryDeps) *Registry {
	return &Registry{
		deps:        deps,
		logger:      noopLogger{},
		controllers: make(map[string]*Controller),
	}
}

// SetLogger sets the logger for the registry and the controllers it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers fn to receive every transition of every controller.
// Observers run on the controller worker and must not block.
func (r *Registry) AddObserver(fn func(Transition)) {
	r.observerMu.Lock()
	r.observers = append(r.observers, fn)
	r.observerMu.Unlock()
}

func (r *Registry) notify(t Transition) {
	r.observerMu.RLock()
	observers := r.observers
	r.observerMu.RUnlock()

	for _, fn := range observers {
		fn(t)
	}
}

// Create builds and starts a controller. A configuration error affects only
// this controller.
func (r *Registry) Create(ctx context.Context, name string, cfg ControllerConfig) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.controllers[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrControllerExists, name)
	}

	c, err := NewController(ctx, name, cfg, ControllerDeps{
		Store:        r.deps.Store,
		Actions:      r.deps.Actions,
		Scenes:       r.deps.Scenes,
		Conditions:   r.deps.Conditions,
		Logger:       r.logger,
		QueueSize:    r.deps.QueueSize,
		OnTransition: r.notify,
	})
	if err != nil {
		return nil, &RejectedError{Name: name, Err: fmt.Errorf("creating controller %s: %w", name, err)}
	}

	r.controllers[name] = c
	controllersGauge.Set(float64(len(r.controllers)))
	r.logger.Info("zone controller created", "controller", name, "entity_id", c.EntityID())
	return c, nil
}

// Destroy stops and removes a controller.
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	c, ok := r.controllers[name]
	delete(r.controllers, name)
	controllersGauge.Set(float64(len(r.controllers)))
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrControllerNotFound, name)
	}

	c.Close()
	r.logger.Info("zone controller destroyed", "controller", name)
	return nil
}

// Apply replaces the running controllers with the ones defined in f.
// Every existing controller is destroyed and every defined controller is
// re-created. Controllers that fail to build are reported in the joined
// error as *RejectedError values; the others still start.
func (r *Registry) Apply(ctx context.Context, f *File) error {
	for _, name := range r.Names() {
		_ = r.Destroy(name) //nolint:errcheck // Only fails for names already gone
	}

	var errs []error
	for _, name := range f.Names() {
		if _, err := r.Create(ctx, name, f.Controllers[name]); err != nil {
			r.logger.Error("zone controller rejected", "controller", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the controller called name.
func (r *Registry) Get(name string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrControllerNotFound, name)
	}
	return c, nil
}

// Names returns the running controller names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the running controllers sorted by name.
func (r *Registry) List() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Deliver routes ev to the named controller and waits for it to be processed.
func (r *Registry) Deliver(ctx context.Context, name string, ev Event) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	return c.Handle(ctx, ev)
}

// Post routes ev to the named controller without waiting. Callers on a
// message-delivery goroutine use it so that a slow action never stalls
// delivery of other messages.
func (r *Registry) Post(name string, ev Event) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	return c.Post(ev)
}

// Close destroys every controller.
func (r *Registry) Close() {
	for _, name := range r.Names() {
		_ = r.Destroy(name) //nolint:errcheck // Only fails for names already gone
	}
}

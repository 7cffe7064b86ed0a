package enforcer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command is an enforcement request as received over MQTT or the API.
type Command struct {
	EntityID        string         `json:"entity_id"`
	Service         string         `json:"service"`
	ServiceData     map[string]any `json:"service_data,omitempty"`
	State           string         `json:"state,omitempty"`
	StateAttributes map[string]any `json:"state_attributes,omitempty"`
}

// Validate checks the required fields. The service must have the
// domain.name form and a desired state is mandatory, since an enforcer
// without one would converge on any observed value.
func (c Command) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidCommand)
	}
	if c.Service == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidCommand)
	}
	domain, name, ok := strings.Cut(c.Service, ".")
	if !ok || domain == "" || name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("%w: service %q must be <domain>.<name>", ErrInvalidCommand, c.Service)
	}
	if strings.TrimSpace(c.State) == "" {
		return fmt.Errorf("%w: state is required", ErrInvalidCommand)
	}
	return nil
}

// Target converts the command into an enforcement target.
func (c Command) Target() Target {
	return Target{
		Operation:  c.Service,
		Payload:    c.ServiceData,
		State:      c.State,
		Attributes: c.StateAttributes,
	}
}

// ManagerDeps are shared by every enforcer of a manager.
type ManagerDeps struct {
	Invoker  Invoker
	States   StateReader
	Backoff  Backoff
	Recorder Recorder
}

// Manager owns the enforcers and routes commands and state changes to them.
//
// All public methods are thread-safe.
type Manager struct {
	deps   ManagerDeps
	logger Logger

	mu        sync.RWMutex
	enforcers map[string]*Enforcer

	observerMu sync.RWMutex
	observers  []func(Status)
}

// NewManager creates an empty manager.
func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		deps:      deps,
		logger:    noopLogger{},
		enforcers: make(map[string]*Enforcer),
	}
}

// SetLogger sets the logger for the manager and the enforcers it creates.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// AddObserver registers fn to receive every status change.
func (m *Manager) AddObserver(fn func(Status)) {
	m.observerMu.Lock()
	m.observers = append(m.observers, fn)
	m.observerMu.Unlock()
}

func (m *Manager) notify(s Status) {
	m.observerMu.RLock()
	observers := m.observers
	m.observerMu.RUnlock()

	for _, fn := range observers {
		fn(s)
	}
}

// Create starts an idle enforcer for entityID.
func (m *Manager) Create(entityID string) (*Enforcer, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrInvalidCommand)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.enforcers[entityID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrEnforcerExists, entityID)
	}

	e := New(entityID, Deps{
		Invoker:  m.deps.Invoker,
		States:   m.deps.States,
		Backoff:  m.deps.Backoff,
		Recorder: m.deps.Recorder,
		Logger:   m.logger,
		OnStatus: m.notify,
	})
	m.enforcers[entityID] = e
	m.logger.Info("enforcer created", "entity_id", entityID)
	return e, nil
}

// Destroy stops and removes an enforcer.
func (m *Manager) Destroy(entityID string) error {
	m.mu.Lock()
	e, ok := m.enforcers[entityID]
	delete(m.enforcers, entityID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEnforcerNotFound, entityID)
	}
	e.Close()
	m.logger.Info("enforcer destroyed", "entity_id", entityID)
	return nil
}

// Apply makes the set of enforcers match ids. Enforcers that stay keep
// their target and retry count.
func (m *Manager) Apply(ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	for _, id := range m.EntityIDs() {
		if !want[id] {
			_ = m.Destroy(id) //nolint:errcheck // Only fails for ids already gone
		}
	}
	for _, id := range ids {
		if _, err := m.Get(id); err == nil {
			continue
		}
		if _, err := m.Create(id); err != nil {
			m.logger.Warn("enforcer not created", "entity_id", id, "error", err)
		}
	}
}

// Get returns the enforcer of entityID.
func (m *Manager) Get(entityID string) (*Enforcer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.enforcers[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEnforcerNotFound, entityID)
	}
	return e, nil
}

// EntityIDs returns the enforced entities, sorted.
func (m *Manager) EntityIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.enforcers))
	for id := range m.enforcers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Statuses returns a snapshot of every enforcer, sorted by entity id.
func (m *Manager) Statuses() []Status {
	ids := m.EntityIDs()
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if e, err := m.Get(id); err == nil {
			out = append(out, e.Status())
		}
	}
	return out
}

// Command routes cmd to its enforcer. Commands for entities without an
// enforcer are logged and rejected with ErrEnforcerNotFound.
func (m *Manager) Command(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	e, err := m.Get(cmd.EntityID)
	if err != nil {
		m.logger.Error("enforcement command for unknown entity", "entity_id", cmd.EntityID)
		return err
	}
	e.Command(cmd.Target())
	return nil
}

// OnStateChanged forwards an observed change to the entity's enforcer, if any.
func (m *Manager) OnStateChanged(ctx context.Context, entityID string) {
	e, err := m.Get(entityID)
	if err != nil {
		return
	}
	e.OnStateChanged(ctx)
}

// Close destroys every enforcer.
func (m *Manager) Close() {
	for _, id := range m.EntityIDs() {
		_ = m.Destroy(id) //nolint:errcheck // Only fails for ids already gone
	}
}

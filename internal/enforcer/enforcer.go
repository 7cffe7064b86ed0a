package enforcer

import (
	"context"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Invoker performs an operation such as "light.turn_on".
type Invoker interface {
	Invoke(ctx context.Context, operation string, payload map[string]any) error
}

// StateReader reads the observed state of an entity.
type StateReader interface {
	Get(ctx context.Context, entityID string) (value string, attrs map[string]any, err error)
}

// Recorder receives one point per enforcement check. May be nil.
type Recorder interface {
	WriteEnforcement(entityID string, retry int, converged bool, delay time.Duration)
}

// Logger is the logging interface used by enforcers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Target is what an enforcer drives its entity towards.
type Target struct {
	Operation string         `json:"service"`
	Payload   map[string]any `json:"service_data,omitempty"`

	// State is the desired observed value. Empty means any value.
	State string `json:"state,omitempty"`

	// Attributes lists desired attribute values. Attributes not listed
	// are not checked.
	Attributes map[string]any `json:"state_attributes,omitempty"`
}

func (t Target) clone() Target {
	t.Payload = maps.Clone(t.Payload)
	t.Attributes = maps.Clone(t.Attributes)
	return t
}

// Matches reports whether an observed state satisfies the target.
func (t Target) Matches(value string, attrs map[string]any) bool {
	if t.State != "" && !equalState(value, t.State) {
		return false
	}
	for k, want := range t.Attributes {
		got, ok := attrs[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// equalValue compares attribute values, treating all numeric types as
// float64 so that a YAML int matches a JSON number.
func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// equalState compares state values, numerically when both parse as numbers
// so that a reported "1.0" satisfies a desired "1".
func equalState(got, want string) bool {
	if got == want {
		return true
	}
	fg, errG := strconv.ParseFloat(strings.TrimSpace(got), 64)
	fw, errW := strconv.ParseFloat(strings.TrimSpace(want), 64)
	return errG == nil && errW == nil && fg == fw
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Status is a snapshot of an enforcer.
type Status struct {
	EntityID  string    `json:"entity_id"`
	Target    *Target   `json:"target,omitempty"`
	Retry     int       `json:"retry"`
	Running   bool      `json:"running"`
	Converged bool      `json:"converged"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deps are the collaborators of an enforcer.
type Deps struct {
	Invoker  Invoker
	States   StateReader
	Backoff  Backoff
	Recorder Recorder
	Logger   Logger

	// OnStatus is called after every status change. May be nil.
	OnStatus func(Status)
}

// Enforcer runs the enforcement loop of one entity.
//
// Thread Safety: all methods are safe for concurrent use.
type Enforcer struct {
	entityID string
	deps     Deps
	logger   Logger
	now      func() time.Time

	mu        sync.Mutex
	target    *Target
	retry     int
	gen       uint64
	cancel    context.CancelFunc
	running   bool
	converged bool
	lastErr   string
	updated   time.Time
	closed    bool

	wg sync.WaitGroup
}

// New creates an idle enforcer for entityID.
func New(entityID string, deps Deps) *Enforcer {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	if deps.Backoff == (Backoff{}) {
		deps.Backoff = DefaultBackoff
	}
	return &Enforcer{
		entityID: entityID,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
	}
}

// EntityID returns the enforced entity.
func (e *Enforcer) EntityID() string { return e.entityID }

// Command sets a new target, resets the retry count and starts enforcing.
// Any loop already running is cancelled first.
func (e *Enforcer) Command(t Target) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	t = t.clone()
	e.target = &t
	e.retry = 0
	e.converged = false
	e.lastErr = ""
	e.updated = e.now()
	gen := e.startLocked()
	status := e.statusLocked()
	e.mu.Unlock()

	retriesGauge.WithLabelValues(e.entityID).Set(0)
	e.logger.Info("enforcement commanded",
		"entity_id", e.entityID,
		"service", t.Operation,
		"state", t.State,
		"generation", gen,
	)
	e.publish(status)
}

// OnStateChanged re-checks the target after an observed change. A
// mismatch while no loop is running bumps the retry count and restarts
// enforcement.
func (e *Enforcer) OnStateChanged(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.target == nil || e.running {
		e.mu.Unlock()
		return
	}
	target := *e.target
	e.mu.Unlock()

	value, attrs, err := e.deps.States.Get(ctx, e.entityID)
	if err != nil {
		e.logger.Warn("reading observed state failed", "entity_id", e.entityID, "error", err)
		return
	}
	if target.Matches(value, attrs) {
		return
	}

	e.mu.Lock()
	// Re-check: a command or another change may have started a loop meanwhile.
	if e.closed || e.running || e.target == nil || !reflect.DeepEqual(*e.target, target) {
		e.mu.Unlock()
		return
	}
	e.retry++
	e.converged = false
	e.updated = e.now()
	retry := e.retry
	e.startLocked()
	status := e.statusLocked()
	e.mu.Unlock()

	retriesGauge.WithLabelValues(e.entityID).Set(float64(retry))
	e.logger.Warn("observed state diverged from target",
		"entity_id", e.entityID,
		"observed", value,
		"want", target.State,
		"retry", retry,
	)
	e.publish(status)
}

// startLocked cancels any running loop and starts a new one.
func (e *Enforcer) startLocked() uint64 {
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	gen := e.gen
	target := *e.target
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, gen, target)
	}()
	return gen
}

func (e *Enforcer) run(ctx context.Context, gen uint64, target Target) {
	for {
		if err := e.deps.Invoker.Invoke(ctx, target.Operation, maps.Clone(target.Payload)); err != nil {
			if ctx.Err() != nil {
				return
			}
			invocations.WithLabelValues(e.entityID, "error").Inc()
			e.logger.Warn("enforcement invoke failed",
				"entity_id", e.entityID,
				"service", target.Operation,
				"error", err,
			)
			e.setError(gen, err)
		} else {
			invocations.WithLabelValues(e.entityID, "ok").Inc()
		}

		retry, ok := e.currentRetry(gen)
		if !ok {
			return
		}
		delay := e.deps.Backoff.Delay(retry)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		value, attrs, err := e.deps.States.Get(ctx, e.entityID)
		converged := err == nil && target.Matches(value, attrs)
		if err != nil {
			e.logger.Warn("reading observed state failed", "entity_id", e.entityID, "error", err)
		}

		if e.deps.Recorder != nil {
			e.deps.Recorder.WriteEnforcement(e.entityID, retry, converged, delay)
		}

		if converged {
			e.finish(gen, retry)
			return
		}
		if !e.advance(gen, value, target.State) {
			return
		}
	}
}

func (e *Enforcer) currentRetry(gen uint64) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retry, gen == e.gen
}

func (e *Enforcer) setError(gen uint64, err error) {
	e.mu.Lock()
	if gen == e.gen {
		e.lastErr = err.Error()
		e.updated = e.now()
	}
	e.mu.Unlock()
}

// advance bumps the retry count if gen is still the current loop.
func (e *Enforcer) advance(gen uint64, observed, want string) bool {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return false
	}
	e.retry++
	e.updated = e.now()
	retry := e.retry
	status := e.statusLocked()
	e.mu.Unlock()

	retriesGauge.WithLabelValues(e.entityID).Set(float64(retry))
	e.logger.Warn("entity has not converged, retrying",
		"entity_id", e.entityID,
		"observed", observed,
		"want", want,
		"retry", retry,
		"next_delay", e.deps.Backoff.Delay(retry).String(),
	)
	e.publish(status)
	return true
}

func (e *Enforcer) finish(gen uint64, retry int) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.converged = true
	e.lastErr = ""
	e.cancel()
	e.cancel = nil
	e.updated = e.now()
	status := e.statusLocked()
	e.mu.Unlock()

	convergences.WithLabelValues(e.entityID).Inc()
	e.logger.Info("entity converged", "entity_id", e.entityID, "retries", retry)
	e.publish(status)
}

// Status returns a snapshot of the enforcer.
func (e *Enforcer) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Enforcer) statusLocked() Status {
	s := Status{
		EntityID:  e.entityID,
		Retry:     e.retry,
		Running:   e.running,
		Converged: e.converged,
		LastError: e.lastErr,
		UpdatedAt: e.updated,
	}
	if e.target != nil {
		t := e.target.clone()
		s.Target = &t
	}
	return s
}

func (e *Enforcer) publish(s Status) {
	if e.deps.OnStatus != nil {
		e.deps.OnStatus(s)
	}
}

// Close stops any running loop and waits for it to exit.
func (e *Enforcer) Close() {
	e.mu.Lock()
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	e.running = false
	e.mu.Unlock()

	e.wg.Wait()
	retriesGauge.DeleteLabelValues(e.entityID)
}

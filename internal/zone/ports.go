package zone

import (
	"context"
	"time"
)

// ActionPort invokes a named operation such as "light.turn_on".
type ActionPort interface {
	Invoke(ctx context.Context, operation string, payload map[string]any) error
}

// ScenePort activates a scene by id.
type ScenePort interface {
	Activate(ctx context.Context, scene string) error
}

// StateStore persists controller state. Get returns "" and a nil error for
// an entity that has never been written.
type StateStore interface {
	Get(ctx context.Context, entityID string) (value string, attrs map[string]any, err error)
	Set(ctx context.Context, entityID, value string, attrs map[string]any) error
}

// Timer is the per-controller one-shot timer. Scheduling replaces any
// pending expiry; Cancel is idempotent. An expiry is delivered back to the
// controller as an EventTimer event.
type Timer interface {
	Schedule(d time.Duration)
	Cancel()
}

// Condition reports whether a node is active for the current event.
type Condition = func(ctx context.Context) bool

// ConditionCompiler turns a condition expression from the controller file
// into a Condition.
type ConditionCompiler interface {
	Compile(expr string) (func(ctx context.Context) bool, error)
}

// always is the condition of a base node with no condition configured.
func always(context.Context) bool { return true }

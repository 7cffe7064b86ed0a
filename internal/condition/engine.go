package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/Shopify/go-lua"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrCompile is returned when an expression is not valid Lua.
var ErrCompile = errors.New("condition: compile failed")

var evalErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "condition_evaluation_errors_total",
	Help: "Condition expressions that raised a runtime error and evaluated to false",
})

// StateReader is the read side of the state store.
type StateReader interface {
	Get(ctx context.Context, entityID string) (value string, attrs map[string]any, err error)
}

// Logger is the logging interface used by the engine.
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

// Engine compiles and evaluates condition expressions.
//
// Thread Safety: Compile and the returned predicates are safe for
// concurrent use.
type Engine struct {
	mu     sync.Mutex
	l      *lua.State
	states StateReader
	now    func() time.Time
	loc    *time.Location
	logger Logger

	compiled map[string]string // expression -> global holding its chunk

	// evalCtx is the context of the evaluation in progress. Only touched
	// with mu held.
	evalCtx context.Context
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to pin hour() and weekday().
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the timezone hour(), minute() and weekday() report in.
// Without it the clock's own zone is used.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithLogger sets the logger for runtime errors.
func WithLogger(logger Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine reading entity state from states.
func NewEngine(states StateReader, opts ...Option) *Engine {
	e := &Engine{
		l:        lua.NewState(),
		states:   states,
		now:      time.Now,
		logger:   noopLogger{},
		compiled: make(map[string]string),
		evalCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, lib := range []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "math", Function: lua.MathOpen},
		{Name: "table", Function: lua.TableOpen},
	} {
		lua.Require(e.l, lib.Name, lib.Function, true)
		e.l.Pop(1)
	}

	// Expressions may not reach the file system or compile further chunks.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		e.l.PushNil()
		e.l.SetGlobal(name)
	}

	e.l.Register("state", e.luaState)
	e.l.Register("attr", e.luaAttr)
	e.l.Register("is_state", e.luaIsState)
	e.l.Register("hour", func(l *lua.State) int {
		l.PushInteger(e.clock().Hour())
		return 1
	})
	e.l.Register("minute", func(l *lua.State) int {
		l.PushInteger(e.clock().Minute())
		return 1
	})
	e.l.Register("weekday", func(l *lua.State) int {
		l.PushInteger(int(e.clock().Weekday()))
		return 1
	})

	return e
}

func (e *Engine) clock() time.Time {
	if e.loc == nil {
		return e.now()
	}
	return e.now().In(e.loc)
}

// Compile turns expr into a predicate. Identical expressions share one
// compiled chunk.
func (e *Engine) Compile(expr string) (func(context.Context) bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrCompile)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	global, ok := e.compiled[expr]
	if !ok {
		if err := lua.LoadString(e.l, "return "+expr); err != nil {
			e.l.SetTop(0)
			return nil, fmt.Errorf("%w: %q: %w", ErrCompile, expr, err)
		}
		global = fmt.Sprintf("__condition_%d", len(e.compiled))
		e.l.SetGlobal(global)
		e.compiled[expr] = global
	}

	return func(ctx context.Context) bool {
		return e.eval(ctx, expr, global)
	}, nil
}

// Eval compiles and evaluates expr once.
func (e *Engine) Eval(ctx context.Context, expr string) (bool, error) {
	pred, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return pred(ctx), nil
}

func (e *Engine) eval(ctx context.Context, expr, global string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evalCtx = ctx
	defer func() {
		e.evalCtx = context.Background()
		e.l.SetTop(0)
	}()

	e.l.Global(global)
	if err := e.l.ProtectedCall(0, 1, 0); err != nil {
		evalErrors.Inc()
		e.logger.Warn("condition evaluation failed", "expression", expr, "error", err)
		return false
	}
	return e.l.ToBoolean(-1)
}

func (e *Engine) lookup(l *lua.State, id string) (string, map[string]any) {
	if e.states == nil {
		return "", nil
	}
	value, attrs, err := e.states.Get(e.evalCtx, id)
	if err != nil {
		lua.Errorf(l, "reading state of %s: %s", id, err.Error())
	}
	return value, attrs
}

func (e *Engine) luaState(l *lua.State) int {
	value, _ := e.lookup(l, lua.CheckString(l, 1))
	if value == "" {
		l.PushNil()
	} else {
		l.PushString(value)
	}
	return 1
}

func (e *Engine) luaIsState(l *lua.State) int {
	id := lua.CheckString(l, 1)
	want := lua.CheckString(l, 2)
	value, _ := e.lookup(l, id)
	l.PushBoolean(value == want)
	return 1
}

func (e *Engine) luaAttr(l *lua.State) int {
	id := lua.CheckString(l, 1)
	key := lua.CheckString(l, 2)
	_, attrs := e.lookup(l, id)
	pushValue(l, attrs[key])
	return 1
}

// pushValue pushes a JSON-decoded attribute value. Tables and other
// composite values are pushed as nil.
func pushValue(l *lua.State, v any) {
	switch x := v.(type) {
	case string:
		l.PushString(x)
	case bool:
		l.PushBoolean(x)
	case float64:
		l.PushNumber(x)
	case int:
		l.PushInteger(x)
	case int64:
		l.PushNumber(float64(x))
	default:
		l.PushNil()
	}
}

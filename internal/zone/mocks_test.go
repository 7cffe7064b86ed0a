package zone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// callLog records the order of side effects across mocks.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	sets   int
	getErr error
	setErr error
	log    *callLog
}

func newMemStore(log *callLog) *memStore {
	return &memStore{values: make(map[string]string), log: log}
}

func (s *memStore) Get(_ context.Context, id string) (string, map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", nil, s.getErr
	}
	return s.values[id], nil, nil
}

func (s *memStore) Set(_ context.Context, id, value string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.values[id] = value
	s.sets++
	s.log.add("set:%s", value)
	return nil
}

func (s *memStore) put(id string, st State) {
	s.mu.Lock()
	s.values[id] = string(st)
	s.mu.Unlock()
}

func (s *memStore) value(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id]
}

func (s *memStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// mockPorts implements ActionPort and ScenePort.
type mockPorts struct {
	mu      sync.Mutex
	invoked []string
	scenes  []string
	failOn  string
	log     *callLog
}

func (p *mockPorts) Invoke(_ context.Context, op string, _ map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if op == p.failOn {
		return errors.New("bridge unavailable")
	}
	p.invoked = append(p.invoked, op)
	p.log.add("invoke:%s", op)
	return nil
}

func (p *mockPorts) Activate(_ context.Context, scene string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if scene == p.failOn {
		return errors.New("scene unavailable")
	}
	p.scenes = append(p.scenes, scene)
	p.log.add("scene:%s", scene)
	return nil
}

func (p *mockPorts) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string{}, p.invoked...)
	return append(out, p.scenes...)
}

// fakeTimer records Schedule and Cancel calls.
type fakeTimer struct {
	mu        sync.Mutex
	scheduled []time.Duration
	cancels   int
	pending   bool
	log       *callLog
}

func (t *fakeTimer) Schedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduled = append(t.scheduled, d)
	t.pending = true
	t.log.add("schedule:%s", d)
}

func (t *fakeTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels++
	t.pending = false
	t.log.add("cancel")
}

func (t *fakeTimer) lastScheduled() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.scheduled) == 0 {
		return 0
	}
	return t.scheduled[len(t.scheduled)-1]
}

// flagCompiler compiles an expression to the value of a named flag and
// counts evaluations.
type flagCompiler struct {
	mu    sync.Mutex
	flags map[string]bool
	evals map[string]int
}

func newFlagCompiler(flags map[string]bool) *flagCompiler {
	return &flagCompiler{flags: flags, evals: make(map[string]int)}
}

func (c *flagCompiler) Compile(expr string) (func(context.Context) bool, error) {
	if expr == "syntax error" {
		return nil, errors.New("condition: unexpected symbol")
	}
	return func(context.Context) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.evals[expr]++
		return c.flags[expr]
	}, nil
}

func (c *flagCompiler) set(expr string, v bool) {
	c.mu.Lock()
	c.flags[expr] = v
	c.mu.Unlock()
}

func (c *flagCompiler) evalCount(expr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evals[expr]
}

// svc returns a one-entry service action list.
func svc(name string) ActionList {
	return ActionList{{Service: name}}
}

// lightNode is a node config whose actions name the node.
func lightNode(mode, prefix string) NodeConfig {
	return NodeConfig{
		Type:        mode,
		ActionOn:    svc(prefix + ".on"),
		ActionDim:   svc(prefix + ".dim"),
		ActionOff:   svc(prefix + ".off"),
		DurationOn:  Duration(2 * time.Minute),
		DurationDim: Duration(30 * time.Second),
	}
}

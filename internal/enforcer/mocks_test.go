package enforcer

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// fakeDevice is an Invoker and StateReader. It adopts payload["state"] once
// it has been invoked convergeAfter times.
type fakeDevice struct {
	mu            sync.Mutex
	convergeAfter int
	invokeErr     error
	calls         []string
	state         string
	attrs         map[string]any
}

func (d *fakeDevice) Invoke(_ context.Context, op string, payload map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op)
	if d.invokeErr != nil {
		return d.invokeErr
	}
	if len(d.calls) >= d.convergeAfter {
		if s, ok := payload["state"].(string); ok {
			d.state = s
		}
		if a, ok := payload["attrs"].(map[string]any); ok {
			d.attrs = a
		}
	}
	return nil
}

func (d *fakeDevice) Get(context.Context, string) (string, map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.attrs, nil
}

func (d *fakeDevice) setState(s string) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *fakeDevice) invocations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.calls...)
}

type recordedCheck struct {
	retry     int
	converged bool
	delay     time.Duration
}

type fakeRecorder struct {
	mu     sync.Mutex
	checks []recordedCheck
}

func (r *fakeRecorder) WriteEnforcement(_ string, retry int, converged bool, delay time.Duration) {
	r.mu.Lock()
	r.checks = append(r.checks, recordedCheck{retry, converged, delay})
	r.mu.Unlock()
}

func (r *fakeRecorder) snapshot() []recordedCheck {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCheck{}, r.checks...)
}

var fastBackoff = Backoff{Base: time.Millisecond, Multiplier: time.Millisecond, Max: 4 * time.Millisecond}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

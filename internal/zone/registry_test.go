package zone

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry() (*Registry, *memStore, *mockPorts) {
	store := newMemStore(nil)
	ports := &mockPorts{}
	r := NewRegistry(RegistryDeps{
		Store:      store,
		Actions:    ports,
		Scenes:     ports,
		Conditions: newFlagCompiler(nil),
	})
	return r, store, ports
}

func TestRegistry_CreateGetDestroy(t *testing.T) {
	r, _, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	if _, err := r.Create(ctx, "hall", ControllerConfig{Base: lightNode(ModeSimple, "hall")}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create(ctx, "hall", ControllerConfig{}); !errors.Is(err, ErrControllerExists) {
		t.Errorf("duplicate Create() error = %v, want ErrControllerExists", err)
	}
	if testutil.ToFloat64(controllersGauge) != 1 {
		t.Errorf("controllers gauge = %v, want 1", testutil.ToFloat64(controllersGauge))
	}

	c, err := r.Get("hall")
	if err != nil || c.Name() != "hall" {
		t.Fatalf("Get() = %v, %v", c, err)
	}

	if err := r.Destroy("hall"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := r.Get("hall"); !errors.Is(err, ErrControllerNotFound) {
		t.Errorf("Get() after Destroy = %v, want ErrControllerNotFound", err)
	}
	if err := r.Destroy("hall"); !errors.Is(err, ErrControllerNotFound) {
		t.Errorf("second Destroy() = %v, want ErrControllerNotFound", err)
	}
}

func TestRegistry_Deliver(t *testing.T) {
	r, store, ports := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	if _, err := r.Create(ctx, "porch", ControllerConfig{Base: lightNode(ModeSimple, "porch")}); err != nil {
		t.Fatal(err)
	}

	if err := r.Deliver(ctx, "porch", NewEvent(EventToggle, nil)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got := store.value("zone.porch"); got != string(StateManualOn) {
		t.Errorf("state = %q, want manual_on", got)
	}
	if got := ports.calls(); !reflect.DeepEqual(got, []string{"porch.on"}) {
		t.Errorf("actions = %v", got)
	}

	if err := r.Deliver(ctx, "attic", NewEvent(EventToggle, nil)); !errors.Is(err, ErrControllerNotFound) {
		t.Errorf("Deliver(unknown) = %v, want ErrControllerNotFound", err)
	}
}

func TestRegistry_Post(t *testing.T) {
	r, store, _ := newTestRegistry()
	defer r.Close()

	if _, err := r.Create(context.Background(), "yard", ControllerConfig{Base: lightNode(ModeSimple, "yard")}); err != nil {
		t.Fatal(err)
	}
	if err := r.Post("yard", NewEvent(EventManualOn, nil)); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if err := r.Post("nowhere", NewEvent(EventManualOn, nil)); !errors.Is(err, ErrControllerNotFound) {
		t.Errorf("Post(unknown) = %v, want ErrControllerNotFound", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.value("zone.yard") != string(StateManualOn) {
		if time.Now().After(deadline) {
			t.Fatalf("state = %q, want manual_on", store.value("zone.yard"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_ApplyKeepsGoodControllers(t *testing.T) {
	r, _, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	if _, err := r.Create(ctx, "old", ControllerConfig{}); err != nil {
		t.Fatal(err)
	}

	f := &File{Controllers: map[string]ControllerConfig{
		"good":   {Base: lightNode(ModeSimple, "good")},
		"broken": {Base: NodeConfig{Condition: "syntax error"}},
	}}

	err := r.Apply(ctx, f)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Apply() error = %v, want ErrInvalidConfig", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"good"}) {
		t.Errorf("Names() = %v, want [good]", got)
	}
	if list := r.List(); len(list) != 1 || list[0].Name() != "good" {
		t.Errorf("List() = %v", list)
	}
	if rejected, ok := Rejections(err); !ok || len(rejected) != 1 || rejected["broken"] == nil {
		t.Errorf("Rejections() = %v, %v; want only broken", rejected, ok)
	}
}

func TestRegistry_ApplyPartialFile(t *testing.T) {
	r, store, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	f, err := ParseConfig([]byte(`
controllers:
  good:
    base:
      type: simple
      duration_on: 60
      action_on: {service: light.turn_on}
      action_off: {service: light.turn_off}
  bad:
    base:
      type: bogus
`))
	if f == nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if applyErr := r.Apply(ctx, f); applyErr != nil {
		t.Fatalf("Apply() error = %v", applyErr)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"good"}) {
		t.Fatalf("Names() = %v, want [good]", got)
	}
	if err := r.Deliver(ctx, "good", NewEvent(EventMovement, nil)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got := store.value("zone.good"); got != string(StateAutoOn) {
		t.Errorf("state = %q, want auto_on", got)
	}
}

func TestRegistry_Observers(t *testing.T) {
	r, _, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []Transition
	)
	r.AddObserver(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	})

	if _, err := r.Create(ctx, "den", ControllerConfig{Base: lightNode(ModeSimple, "den")}); err != nil {
		t.Fatal(err)
	}
	if err := r.Deliver(ctx, "den", NewEvent(EventManualOn, nil)); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("observed %d transitions, want 1", len(seen))
	}
	tr := seen[0]
	if tr.Controller != "den" || tr.EntityID != "zone.den" || tr.From != StateOff || tr.To != StateManualOn || tr.Event != EventManualOn {
		t.Errorf("transition = %+v", tr)
	}
}

func TestRegistry_CloseStopsEverything(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	c, err := r.Create(ctx, "a", ControllerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if len(r.Names()) != 0 {
		t.Errorf("Names() = %v after Close", r.Names())
	}
	if err := c.Handle(ctx, NewEvent(EventToggle, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Handle() = %v, want ErrClosed", err)
	}
}

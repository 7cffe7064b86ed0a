package zone

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Action is one entry of an action list: either a service invocation or a
// scene activation, never both.
type Action struct {
	// Service is "<domain>.<name>", e.g. "light.turn_on".
	Service string         `json:"service,omitempty"`
	Data    map[string]any `json:"service_data,omitempty"`
	Scene   string         `json:"scene,omitempty"`
}

// IsScene reports whether the action activates a scene.
func (a Action) IsScene() bool { return a.Scene != "" }

func (a Action) String() string {
	if a.IsScene() {
		return "scene:" + a.Scene
	}
	return a.Service
}

var actionKeys = map[string]bool{"service": true, "service_data": true, "scene": true}

// UnmarshalYAML decodes and validates a single action mapping.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: action must be a mapping", ErrInvalidConfig, value.Line)
	}
	for i := 0; i < len(value.Content); i += 2 {
		if key := value.Content[i].Value; !actionKeys[key] {
			return fmt.Errorf("%w: line %d: unknown action key %q", ErrInvalidConfig, value.Content[i].Line, key)
		}
	}

	var raw struct {
		Service     string         `yaml:"service"`
		ServiceData map[string]any `yaml:"service_data"`
		Scene       string         `yaml:"scene"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: line %d: %w", ErrInvalidConfig, value.Line, err)
	}

	*a = Action{Service: raw.Service, Data: raw.ServiceData, Scene: raw.Scene}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

// Validate checks that exactly one of Service and Scene is set and that
// Service has the domain.name form.
func (a Action) Validate() error {
	switch {
	case a.Service != "" && a.Scene != "":
		return fmt.Errorf("%w: action has both service and scene", ErrInvalidConfig)
	case a.Scene != "":
		if a.Data != nil {
			return fmt.Errorf("%w: scene action %q cannot carry service_data", ErrInvalidConfig, a.Scene)
		}
		return nil
	case a.Service == "":
		return fmt.Errorf("%w: action needs a service or a scene", ErrInvalidConfig)
	}

	domain, name, ok := strings.Cut(a.Service, ".")
	if !ok || domain == "" || name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("%w: service %q must be <domain>.<name>", ErrInvalidConfig, a.Service)
	}
	return nil
}

// ActionList is an ordered list of actions. In YAML it accepts either a
// single action mapping or a sequence of them.
type ActionList []Action

// UnmarshalYAML accepts one action or many.
func (l *ActionList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var a Action
		if err := value.Decode(&a); err != nil {
			return err
		}
		*l = ActionList{a}
		return nil
	case yaml.SequenceNode:
		var actions []Action
		if err := value.Decode(&actions); err != nil {
			return err
		}
		*l = actions
		return nil
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*l = nil
			return nil
		}
	}
	return fmt.Errorf("%w: line %d: actions must be a mapping or a list", ErrInvalidConfig, value.Line)
}

// ActionKind selects one of the three lists of an ActionSet.
type ActionKind int

// Action kinds.
const (
	ActionOn ActionKind = iota
	ActionDim
	ActionOff
)

func (k ActionKind) String() string {
	switch k {
	case ActionOn:
		return "on"
	case ActionDim:
		return "dim"
	case ActionOff:
		return "off"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// ActionSet holds the on, dim and off lists of one node.
type ActionSet struct {
	On  ActionList
	Dim ActionList
	Off ActionList
}

// List returns the list for kind.
func (s ActionSet) List(kind ActionKind) ActionList {
	switch kind {
	case ActionOn:
		return s.On
	case ActionDim:
		return s.Dim
	default:
		return s.Off
	}
}

// ActionExecutor runs the actions of one node against the action and scene ports.
type ActionExecutor struct {
	set     ActionSet
	actions ActionPort
	scenes  ScenePort
}

// NewActionExecutor creates an executor for set.
func NewActionExecutor(set ActionSet, actions ActionPort, scenes ScenePort) *ActionExecutor {
	return &ActionExecutor{set: set, actions: actions, scenes: scenes}
}

// Run executes every action of the selected list concurrently and waits for
// all of them. Entries carry no ordering guarantee. The first failure
// cancels the context passed to the others and is returned wrapped in
// ErrActionFailed. There is no retry at this layer.
func (e *ActionExecutor) Run(ctx context.Context, kind ActionKind) error {
	list := e.set.List(kind)
	if len(list) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range list {
		g.Go(func() error {
			return e.runOne(gctx, a)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %s actions: %w", ErrActionFailed, kind, err)
	}
	return nil
}

func (e *ActionExecutor) runOne(ctx context.Context, a Action) error {
	if a.IsScene() {
		if e.scenes == nil {
			return errors.New("no scene port configured")
		}
		if err := e.scenes.Activate(ctx, a.Scene); err != nil {
			return fmt.Errorf("scene %s: %w", a.Scene, err)
		}
		return nil
	}

	if e.actions == nil {
		return errors.New("no action port configured")
	}
	// Ports may keep or mutate the payload; hand each call its own copy.
	if err := e.actions.Invoke(ctx, a.Service, maps.Clone(a.Data)); err != nil {
		return fmt.Errorf("%s: %w", a.Service, err)
	}
	return nil
}

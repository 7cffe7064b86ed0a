package zone

import (
	"context"
	"fmt"
)

// Node is one level of a controller's override tree. A node consumes an
// event when its condition holds: a child gets the first chance, and the
// node's own dispatcher handles whatever no child took.
type Node struct {
	name       string
	condition  Condition
	dispatcher *Dispatcher
	children   []*Node
}

// NewNode creates a node. A nil condition always holds.
func NewNode(name string, cond Condition, dispatcher *Dispatcher, children ...*Node) *Node {
	if cond == nil {
		cond = always
	}
	return &Node{name: name, condition: cond, dispatcher: dispatcher, children: children}
}

// Name returns the node path, e.g. "hallway/overrides[1]".
func (n *Node) Name() string { return n.name }

// Children returns the override nodes in declared order.
func (n *Node) Children() []*Node { return n.children }

// Resolve offers ev to this subtree.
//
// A false condition returns false without touching children or the
// dispatcher. Otherwise children are tried in order and the first that
// handles the event stops the walk; if none does, the node's dispatcher
// runs and the event counts as handled even when no transition matched.
func (n *Node) Resolve(ctx context.Context, ev Event) (bool, error) {
	if !n.condition(ctx) {
		return false, nil
	}

	for _, child := range n.children {
		handled, err := child.Resolve(ctx, ev)
		if handled || err != nil {
			return true, err
		}
	}

	if err := n.dispatcher.Dispatch(ctx, ev); err != nil {
		return true, fmt.Errorf("%s: %w", n.name, err)
	}
	return true, nil
}

// TreeDeps are the collaborators needed to build a tree.
type TreeDeps struct {
	Context    *TreeContext
	Actions    ActionPort
	Scenes     ScenePort
	Conditions ConditionCompiler
}

// BuildTree builds the override tree of a controller from its base node.
func BuildTree(base NodeConfig, deps TreeDeps) (*Node, error) {
	return buildNode(deps.Context.Controller, base, true, deps)
}

func buildNode(path string, cfg NodeConfig, root bool, deps TreeDeps) (*Node, error) {
	cond, err := compileCondition(path, cfg.Condition, root, deps.Conditions)
	if err != nil {
		return nil, err
	}

	strategies, err := StrategiesForMode(cfg.mode(), Durations{
		On:  cfg.DurationOn.Duration(),
		Dim: cfg.DurationDim.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	executor := NewActionExecutor(cfg.Actions(), deps.Actions, deps.Scenes)
	dispatcher := NewDispatcher(deps.Context, executor, strategies...)

	children := make([]*Node, 0, len(cfg.Overrides))
	for i, child := range cfg.Overrides {
		n, err := buildNode(fmt.Sprintf("%s/overrides[%d]", path, i), child, false, deps)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}

	return NewNode(path, cond, dispatcher, children...), nil
}

func compileCondition(path, expr string, root bool, compiler ConditionCompiler) (Condition, error) {
	if expr == "" {
		if root {
			return always, nil
		}
		return nil, fmt.Errorf("%w: %s: override requires a condition", ErrInvalidConfig, path)
	}
	if compiler == nil {
		return nil, fmt.Errorf("%w: %s: no condition compiler configured", ErrInvalidConfig, path)
	}

	cond, err := compiler.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cond, nil
}

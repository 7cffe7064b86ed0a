package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// Invoke publishes a service command. It implements zone.ActionPort and
// enforcer.Invoker.
func (b *Bridge) Invoke(ctx context.Context, service string, data map[string]any) error {
	domain, name, ok := strings.Cut(service, ".")
	if !ok || domain == "" || name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := ServiceMessage{
		ID:        uuid.NewString(),
		Timestamp: b.now().UTC(),
		Service:   service,
		Data:      maps.Clone(data),
		Source:    b.source,
	}
	if err := b.publishJSON(b.topics.Service(domain, name), msg, false); err != nil {
		return fmt.Errorf("invoking %s: %w", service, err)
	}

	b.logger.Debug("service invoked", "service", service, "command_id", msg.ID)
	return nil
}

// Activate publishes a scene activation. It implements zone.ScenePort.
func (b *Bridge) Activate(ctx context.Context, scene string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := SceneMessage{
		ID:        uuid.NewString(),
		Timestamp: b.now().UTC(),
		SceneID:   scene,
		Source:    b.source,
	}
	if err := b.publishJSON(b.topics.SceneActivate(scene), msg, false); err != nil {
		return fmt.Errorf("activating scene %s: %w", scene, err)
	}
	return nil
}

// PublishTransition publishes the new controller state, retained.
// Registered as a zone.Registry observer.
func (b *Bridge) PublishTransition(t zone.Transition) {
	msg := ZoneStateMessage{
		Controller: t.Controller,
		EntityID:   t.EntityID,
		State:      string(t.To),
		From:       string(t.From),
		Event:      string(t.Event),
		Timestamp:  t.At.UTC(),
	}
	if err := b.publishJSON(b.topics.CoreZoneState(t.Controller), msg, true); err != nil {
		b.logger.Warn("publishing zone state failed", "controller", t.Controller, "error", err)
	}
}

// PublishEnforcerStatus publishes an enforcer status, retained.
// Registered as an enforcer.Manager observer.
func (b *Bridge) PublishEnforcerStatus(s enforcer.Status) {
	if err := b.publishJSON(b.topics.CoreEnforcerStatus(s.EntityID), s, true); err != nil {
		b.logger.Warn("publishing enforcer status failed", "entity_id", s.EntityID, "error", err)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	return b.mqtt.Publish(topic, payload, b.qos, retained)
}

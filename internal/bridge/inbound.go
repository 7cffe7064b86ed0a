package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-zones/internal/statestore"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// Topic segment positions.
const (
	segZoneController = 2 // graylogic/zone/{controller}/event
	segEnforceEntity  = 2 // graylogic/enforce/{entity}/set
	segStateProtocol  = 2 // graylogic/state/{protocol}/{entity}
	segStateEntity    = 3
)

// handleZoneEvent routes a zone event to its controller.
func (b *Bridge) handleZoneEvent(topic string, payload []byte) error {
	var msg ZoneEventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	controller := msg.Controller
	if topic != b.topics.ZoneEvents() {
		controller = mqtt.Segment(topic, segZoneController)
	}
	if controller == "" {
		return fmt.Errorf("%w: zone event without controller", ErrInvalidMessage)
	}

	eventType, err := zone.ParseEventType(msg.Type)
	if err != nil {
		return fmt.Errorf("controller %s: %w", controller, err)
	}

	if err := b.zones.Post(controller, zone.NewEvent(eventType, msg.Payload)); err != nil {
		b.logger.Error("zone event not delivered",
			"controller", controller,
			"event", msg.Type,
			"error", err,
		)
		return nil
	}

	b.logger.Debug("zone event received", "controller", controller, "event", msg.Type)
	return nil
}

// handleEnforceSet passes an enforcement command to the manager. The entity
// in the topic is authoritative.
func (b *Bridge) handleEnforceSet(topic string, payload []byte) error {
	var cmd enforcer.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	entityID := mqtt.Segment(topic, segEnforceEntity)
	if cmd.EntityID != "" && cmd.EntityID != entityID {
		return fmt.Errorf("%w: entity_id %q does not match topic %q", ErrInvalidMessage, cmd.EntityID, topic)
	}

	cmd.EntityID = entityID

	if err := b.enforcers.Command(cmd); err != nil {
		// Unknown entities are logged by the manager and otherwise ignored.
		b.logger.Debug("enforcement command rejected", "entity_id", entityID, "error", err)
	}
	return nil
}

// handleBridgeState records observed device state.
func (b *Bridge) handleBridgeState(topic string, payload []byte) error {
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	entityID := mqtt.Segment(topic, segStateEntity)
	if entityID == "" {
		return fmt.Errorf("%w: state topic %q has no entity", ErrInvalidMessage, topic)
	}

	value, attrs, err := msg.decode()
	if err != nil {
		return fmt.Errorf("entity %s: %w", entityID, err)
	}
	attrs["protocol"] = mqtt.Segment(topic, segStateProtocol)

	ctx, cancel := context.WithTimeout(context.Background(), stateWriteTimeout)
	defer cancel()

	if err := b.states.SetWithSource(ctx, entityID, value, attrs, statestore.SourceBridge); err != nil {
		return fmt.Errorf("recording state of %s: %w", entityID, err)
	}
	return nil
}

package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ServiceMessage is published to invoke a service on a protocol bridge.
// Topic: graylogic/service/{domain}/{name}
type ServiceMessage struct {
	// ID correlates the command with acknowledgements and logs.
	ID string `json:"id"`

	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Data      map[string]any `json:"data,omitempty"`

	// Source is the publishing service.
	Source string `json:"source"`
}

// SceneMessage is published to activate a scene.
// Topic: graylogic/scene/{scene}/activate
type SceneMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SceneID   string    `json:"scene_id"`
	Source    string    `json:"source"`
}

// ZoneEventMessage is an inbound zone event. Controller is only read on the
// shared graylogic/zone/event topic; on per-controller topics the topic wins.
type ZoneEventMessage struct {
	Controller string         `json:"controller,omitempty"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ZoneStateMessage is published (retained) after every controller transition.
// Topic: graylogic/core/zone/{controller}/state
type ZoneStateMessage struct {
	Controller string    `json:"controller"`
	EntityID   string    `json:"entity_id"`
	State      string    `json:"state"`
	From       string    `json:"from"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
}

// StateMessage is observed device state published by a protocol bridge.
// Topic: graylogic/state/{protocol}/{entity}
//
// State is either a plain value ("on") or an object of attributes as sent by
// the KNX bridge ({"on": true, "level": 50}); see decode.
type StateMessage struct {
	DeviceID   string          `json:"device_id"`
	Timestamp  time.Time       `json:"timestamp"`
	State      json.RawMessage `json:"state"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// decode returns the entity value and attributes carried by the message.
// A scalar state is the value itself, with booleans read as "on"/"off". An
// object state is merged into the attributes and its value is taken from
// "on", then "level", then "state", whichever is present first.
func (m StateMessage) decode() (string, map[string]any, error) {
	attrs := make(map[string]any, len(m.Attributes))
	for k, v := range m.Attributes {
		attrs[k] = v
	}

	if len(m.State) == 0 {
		return "", nil, fmt.Errorf("%w: missing state", ErrInvalidMessage)
	}

	var raw any
	if err := json.Unmarshal(m.State, &raw); err != nil {
		return "", nil, fmt.Errorf("%w: state: %w", ErrInvalidMessage, err)
	}

	fields, isObject := raw.(map[string]any)
	if !isObject {
		value, ok := scalarValue(raw)
		if !ok {
			return "", nil, fmt.Errorf("%w: state must be a scalar or an object", ErrInvalidMessage)
		}
		return value, attrs, nil
	}

	for k, v := range fields {
		attrs[k] = v
	}
	for _, key := range []string{"on", "level", "state"} {
		if value, ok := scalarValue(fields[key]); ok {
			return value, attrs, nil
		}
	}
	return "", attrs, nil
}

func scalarValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		if x {
			return "on", true
		}
		return "off", true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

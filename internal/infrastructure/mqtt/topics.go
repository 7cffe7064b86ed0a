package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Everything the zone service reads or writes lives under
// graylogic/.
const (
	TopicPrefix       = "graylogic"
	TopicPrefixCore   = "graylogic/core"
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.ZoneEvent("hallway")         // graylogic/zone/hallway/event
//	topics.CoreZoneState("hallway")     // graylogic/core/zone/hallway/state
type Topics struct{}

// =============================================================================
// Inbound
// =============================================================================

// ZoneEvent returns the event topic for one controller.
//
// Example: graylogic/zone/hallway/event
func (Topics) ZoneEvent(controller string) string {
	return fmt.Sprintf("%s/zone/%s/event", TopicPrefix, controller)
}

// ZoneEvents returns the shared event topic whose payload names the controller.
//
// Example: graylogic/zone/event
func (Topics) ZoneEvents() string {
	return TopicPrefix + "/zone/event"
}

// EnforceSet returns the enforcement command topic for an entity.
//
// Example: graylogic/enforce/light.hall/set
func (Topics) EnforceSet(entityID string) string {
	return fmt.Sprintf("%s/enforce/%s/set", TopicPrefix, entityID)
}

// BridgeState returns the topic a protocol bridge publishes observed state on.
//
// Example: graylogic/state/knx/light.hall
func (Topics) BridgeState(protocol, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, entityID)
}

// =============================================================================
// Outbound
// =============================================================================

// Service returns the topic for a service invocation such as light.turn_on.
//
// Example: graylogic/service/light/turn_on
func (Topics) Service(domain, name string) string {
	return fmt.Sprintf("%s/service/%s/%s", TopicPrefix, domain, name)
}

// SceneActivate returns the topic that activates a scene.
//
// Example: graylogic/scene/evening/activate
func (Topics) SceneActivate(sceneID string) string {
	return fmt.Sprintf("%s/scene/%s/activate", TopicPrefix, sceneID)
}

// CoreZoneState returns the retained state topic for a controller.
//
// Example: graylogic/core/zone/hallway/state
func (Topics) CoreZoneState(controller string) string {
	return fmt.Sprintf("%s/zone/%s/state", TopicPrefixCore, controller)
}

// CoreEnforcerStatus returns the status topic for an enforced entity.
//
// Example: graylogic/core/enforcer/light.hall/status
func (Topics) CoreEnforcerStatus(entityID string) string {
	return fmt.Sprintf("%s/enforcer/%s/status", TopicPrefixCore, entityID)
}

// SystemStatus returns the system status topic used for LWT and online status.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllZoneEvents matches the per-controller event topics.
//
// Pattern: graylogic/zone/+/event
func (Topics) AllZoneEvents() string {
	return TopicPrefix + "/zone/+/event"
}

// AllEnforceSets matches every enforcement command topic.
//
// Pattern: graylogic/enforce/+/set
func (Topics) AllEnforceSets() string {
	return TopicPrefix + "/enforce/+/set"
}

// AllBridgeStates matches observed state from every bridge.
//
// Pattern: graylogic/state/+/+
func (Topics) AllBridgeStates() string {
	return TopicPrefix + "/state/+/+"
}

// Segment returns the n-th "/"-separated segment of topic, or "" when the
// topic is shorter. Handlers use it to pull ids out of wildcard matches.
func Segment(topic string, n int) string {
	parts := strings.Split(topic, "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}

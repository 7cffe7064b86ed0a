// Package bridge connects the zone controllers and enforcers to MQTT.
//
// Outbound, it implements the ports the core consumes: service invocations
// (zone.ActionPort, enforcer.Invoker) become command messages on
// graylogic/service/{domain}/{name}, scene activations go to
// graylogic/scene/{scene}/activate, and controller transitions and
// enforcer status are published under graylogic/core/.
//
// Inbound, it subscribes to:
//
//	graylogic/zone/{controller}/event   zone events for one controller
//	graylogic/zone/event                zone events naming their controller
//	graylogic/enforce/{entity}/set      enforcement commands
//	graylogic/state/{protocol}/{entity} observed device state from protocol bridges
//
// Zone events are posted to the controller queue without waiting, so a
// slow action never holds up MQTT delivery. Malformed messages are logged
// and dropped.
package bridge

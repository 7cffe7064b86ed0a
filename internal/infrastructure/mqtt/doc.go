// Package mqtt is the broker connection for Gray Logic Zones.
//
// The client wraps paho.mqtt.golang and adds:
//   - Subscription tracking with automatic restore on reconnect
//   - Panic recovery around every message handler
//   - A retained online/offline status with Last Will and Testament
//   - Topic builders (Topics) for zone events, enforcement commands,
//     bridge state, service invocations and scene activation
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllZoneEvents(), 1, handler)
package mqtt

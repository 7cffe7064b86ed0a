package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// ackTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	ackTimeout = 5 * time.Second

	// disconnectQuiesce is in milliseconds. Only the offline status is
	// normally in flight at shutdown.
	disconnectQuiesce = 250

	// keepAlive is short because enforcers and the zone timers act on
	// bridge state; a dead link should surface within a minute.
	keepAlive = 20 * time.Second

	maxQoS = 2
)

// ServiceName identifies this service in presence messages.
const ServiceName = "zones"

// Presence values carried by StatusMessage.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonUnexpected = "unexpected_disconnect"
	ReasonShutdown   = "graceful_shutdown"
)

// StatusMessage is the retained presence message on graylogic/system/status.
// The broker publishes the offline variant as Last Will when the service
// drops off without saying goodbye.
type StatusMessage struct {
	Service   string    `json:"service"`
	ClientID  string    `json:"client_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(StatusMessage{ //nolint:errcheck // plain struct, cannot fail
		Service:   ServiceName,
		ClientID:  clientID,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return b
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// clientOptions maps the MQTT config onto paho options, including the
// offline Last Will.
//
// Sessions are clean: subscriptions are restored by the client itself on
// every connect, and zone events queued while the service was down are
// stale by the time it returns.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(Topics{}.SystemStatus(), statusPayload(cfg.Broker.ClientID, StatusOffline, ReasonUnexpected), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

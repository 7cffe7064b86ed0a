package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// DefaultSource is the source field of published commands.
const DefaultSource = "graylogic-zones"

// stateWriteTimeout bounds a state store write triggered by an inbound message.
const stateWriteTimeout = 5 * time.Second

// MQTTClient is the subset of the MQTT client used by the bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// ZoneSink receives inbound zone events. zone.Registry implements it.
type ZoneSink interface {
	Post(name string, ev zone.Event) error
}

// EnforcerSink receives enforcement commands. enforcer.Manager implements it.
type EnforcerSink interface {
	Command(cmd enforcer.Command) error
}

// StateSink records observed device state. statestore.Store implements it.
type StateSink interface {
	SetWithSource(ctx context.Context, entityID, value string, attrs map[string]any, source string) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge. MQTT is required; each sink is optional and
// its topics are only subscribed when it is set.
type Options struct {
	MQTT      MQTTClient
	Zones     ZoneSink
	Enforcers EnforcerSink
	States    StateSink

	// QoS for publishes and subscriptions. Defaults to 1.
	QoS    byte
	Source string
	Logger Logger
}

// Bridge translates between MQTT messages and the core ports.
type Bridge struct {
	mqtt      MQTTClient
	zones     ZoneSink
	enforcers EnforcerSink
	states    StateSink
	qos       byte
	source    string
	logger    Logger
	topics    mqtt.Topics
	now       func() time.Time

	mu         sync.Mutex
	subscribed []string
}

// New creates a bridge.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: MQTT client is required")
	}
	b := &Bridge{
		mqtt:      opts.MQTT,
		zones:     opts.Zones,
		enforcers: opts.Enforcers,
		states:    opts.States,
		qos:       opts.QoS,
		source:    opts.Source,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if b.qos == 0 {
		b.qos = 1
	}
	if b.source == "" {
		b.source = DefaultSource
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Attach sets the zone and enforcer sinks after construction. The registry
// and the enforcer manager use the bridge as their outbound port, so they
// are usually created after it. Must be called before Start.
func (b *Bridge) Attach(zones ZoneSink, enforcers EnforcerSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if zones != nil {
		b.zones = zones
	}
	if enforcers != nil {
		b.enforcers = enforcers
	}
}

// Start subscribes to the inbound topics.
func (b *Bridge) Start() error {
	var subs []struct {
		topic   string
		handler mqtt.MessageHandler
	}
	add := func(topic string, h mqtt.MessageHandler) {
		subs = append(subs, struct {
			topic   string
			handler mqtt.MessageHandler
		}{topic, h})
	}

	if b.zones != nil {
		add(b.topics.AllZoneEvents(), b.handleZoneEvent)
		add(b.topics.ZoneEvents(), b.handleZoneEvent)
	}
	if b.enforcers != nil {
		add(b.topics.AllEnforceSets(), b.handleEnforceSet)
	}
	if b.states != nil {
		add(b.topics.AllBridgeStates(), b.handleBridgeState)
	}

	for _, s := range subs {
		if err := b.mqtt.Subscribe(s.topic, b.qos, s.handler); err != nil {
			b.Stop()
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
		b.mu.Lock()
		b.subscribed = append(b.subscribed, s.topic)
		b.mu.Unlock()
		b.logger.Info("subscribed", "topic", s.topic)
	}
	return nil
}

// Stop unsubscribes from every inbound topic.
func (b *Bridge) Stop() {
	b.mu.Lock()
	topics := b.subscribed
	b.subscribed = nil
	b.mu.Unlock()

	for _, topic := range topics {
		if err := b.mqtt.Unsubscribe(topic); err != nil {
			b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

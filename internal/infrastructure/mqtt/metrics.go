package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handler results.
const (
	resultHandled  = "handled"
	resultFailed   = "failed"
	resultPanicked = "panicked"
)

var (
	brokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_broker_connected",
		Help: "1 while the broker connection is up",
	})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnects_total",
		Help: "Broker connections re-established after a loss",
	})

	// messagesHandled is labelled by subscription filter, not by topic, so
	// per-entity topics do not grow the series count.
	messagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_handled_total",
		Help: "Inbound messages by subscription filter and handler result",
	}, []string{"subscription", "result"})
)

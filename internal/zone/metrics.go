package zone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchMisses counts events no strategy had a handler for.
	dispatchMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_dispatch_miss_total",
		Help: "Events consumed by a dispatcher without a matching transition",
	}, []string{"controller"})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_transitions_total",
		Help: "State transitions by controller, event and target state",
	}, []string{"controller", "event", "to"})

	actionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_action_failures_total",
		Help: "Transitions aborted because an action failed",
	}, []string{"controller"})

	staleTimerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_stale_timer_events_total",
		Help: "Timer expiries dropped because a newer schedule or cancel superseded them",
	}, []string{"controller"})

	controllersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zone_controllers",
		Help: "Number of running zone controllers",
	})
)

package enforcer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retriesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enforcer_retries",
		Help: "Current retry count of the enforcement loop per entity",
	}, []string{"entity_id"})

	invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enforcer_invocations_total",
		Help: "Operations invoked by enforcement loops",
	}, []string{"entity_id", "result"})

	convergences = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enforcer_converged_total",
		Help: "Enforcement loops that ended with the observed state matching the target",
	}, []string{"entity_id"})
)

package influxdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "influxdb_points_queued_total",
		Help: "Telemetry points handed to the batching writer, by measurement",
	}, []string{"measurement"})

	// pointsDropped counts points written after Close.
	pointsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "influxdb_points_dropped_total",
		Help: "Telemetry points discarded because the client was closed",
	}, []string{"measurement"})

	writeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "influxdb_write_errors_total",
		Help: "Batches InfluxDB rejected or that could not be sent",
	})
)

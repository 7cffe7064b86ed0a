package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "no telemetry", not as a failure.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrConnectionFailed wraps the ping error seen while connecting.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by HealthCheck once Close has run.
	ErrClosed = errors.New("influxdb: client closed")
)

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the zone service.
const (
	MeasurementZoneTransition = "zone_transition"
	MeasurementEnforcement    = "enforcement"
)

// WriteZoneTransition records a controller moving between states.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - controller: Controller name (tag)
//   - event: Event type that caused the transition (tag)
//   - from, to: Previous and new state values (fields)
//
// Example:
//
//	client.WriteZoneTransition("hallway", "movement", "off", "auto_on")
func (c *Client) WriteZoneTransition(controller, event, from, to string) {
	c.WritePoint(MeasurementZoneTransition,
		map[string]string{
			"controller": controller,
			"event":      event,
		},
		map[string]any{
			"from": from,
			"to":   to,
		},
	)
}

// WriteEnforcement records one enforcement check for an entity.
//
// Parameters:
//   - entityID: Enforced entity (tag)
//   - retry: Retry count after the check (field)
//   - converged: Whether observed state matched the target (field)
//   - delay: Backoff slept before the check (field, seconds)
func (c *Client) WriteEnforcement(entityID string, retry int, converged bool, delay time.Duration) {
	c.WritePoint(MeasurementEnforcement,
		map[string]string{
			"entity_id": entityID,
		},
		map[string]any{
			"retry":         retry,
			"converged":     converged,
			"delay_seconds": delay.Seconds(),
		},
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("zone_queue",
//	    map[string]string{"controller": "hallway"},
//	    map[string]any{"depth": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	c.WritePointWithTime(measurement, tags, fields, now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Points written after Close are counted and dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if c.writeAPI == nil || c.closed.Load() {
		pointsDropped.WithLabelValues(measurement).Inc()
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	pointsQueued.WithLabelValues(measurement).Inc()
}

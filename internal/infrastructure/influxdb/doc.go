// Package influxdb records zone telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health checks. Two
// measurements are written:
//   - zone_transition: one point per controller state change
//   - enforcement: one point per enforcement check
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("site", cfg.Site.ID))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteZoneTransition("hallway", "movement", "off", "auto_on")
//
// All methods are safe for concurrent use. Write errors arrive through
// the SetOnError callback because writes are asynchronous.
package influxdb

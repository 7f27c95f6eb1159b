// Package influxdb records light telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and a health check.
//
// # Measurements
//
//   - openrgb_light: one point per published light state, tagged with
//     server, key and kind, with fields on, brightness, hue, saturation,
//     red, green, blue and available.
//   - openrgb_server: one point per availability change, tagged with
//     server, with the boolean field online.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLightState(influxdb.LightMetric{Server: uid, Key: "SN-001", On: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the callback
// set with SetOnError. Connection and health check errors are returned
// directly.
package influxdb

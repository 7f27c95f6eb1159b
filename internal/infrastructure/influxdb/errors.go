package influxdb

import "errors"

// Errors returned by the telemetry client.
var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	// main treats it as "run without InfluxDB", never as a failure.
	ErrDisabled = errors.New("influxdb: light telemetry disabled")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps a batch of light points the server rejected.
	// It is delivered to the OnError callback, never returned, because
	// writes are asynchronous.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)

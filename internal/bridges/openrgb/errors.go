package openrgb

import "errors"

// Domain errors for the OpenRGB bridge package.
var (
	// ErrLightNotFound is returned when no light entity has the given key.
	ErrLightNotFound = errors.New("openrgb bridge: light not found")

	// ErrLightUnavailable is returned when a light's device is missing from
	// the last device list read from the server.
	ErrLightUnavailable = errors.New("openrgb bridge: light unavailable")

	// ErrOffline is returned when a write is attempted while the server is
	// marked offline.
	ErrOffline = errors.New("openrgb bridge: server offline")

	// ErrFetchFailed is returned when the device list could not be read.
	ErrFetchFailed = errors.New("openrgb bridge: device fetch failed")

	// ErrUnknownService is returned for a service name the bridge does not offer.
	ErrUnknownService = errors.New("openrgb bridge: unknown service")

	// ErrInvalidCommand is returned when a light command cannot be parsed.
	ErrInvalidCommand = errors.New("openrgb bridge: invalid command")

	// ErrStopped is returned by operations attempted after Stop.
	ErrStopped = errors.New("openrgb bridge: stopped")
)

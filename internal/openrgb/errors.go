package openrgb

import "errors"

// Domain errors for the OpenRGB client package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the SDK server.
	ErrNotConnected = errors.New("openrgb: not connected to sdk server")

	// ErrConnectionFailed is returned when dialing or the handshake fails.
	ErrConnectionFailed = errors.New("openrgb: connection to sdk server failed")

	// ErrConnectionLost is returned when the socket fails mid-request.
	ErrConnectionLost = errors.New("openrgb: connection lost")

	// ErrTimeout is returned when the server does not answer a request in time.
	ErrTimeout = errors.New("openrgb: request timed out")

	// ErrProtocol is returned for malformed packets or controller data.
	ErrProtocol = errors.New("openrgb: protocol error")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("openrgb: client closed")

	// ErrDeviceNotFound is returned for an unknown controller index.
	ErrDeviceNotFound = errors.New("openrgb: device not found")

	// ErrLEDNotFound is returned for an LED index outside the device.
	ErrLEDNotFound = errors.New("openrgb: led not found")

	// ErrModeNotFound is returned when a device has no mode with the given name.
	ErrModeNotFound = errors.New("openrgb: mode not found")
)

// IsConnectionError reports whether err means the server is unreachable,
// as opposed to a bad request. Callers use it to decide whether to mark
// the connection offline.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrClosed)
}

package mqtt

import "errors"

// Errors returned by the broker client. Callers match them with errors.Is;
// the bridge treats ErrNotConnected as "skip and let the reconnect
// handler republish".
var (
	// ErrNotConnected means the broker session is down.
	ErrNotConnected = errors.New("mqtt: broker not connected")

	// ErrConnectionFailed means the first connect to the broker failed.
	// Later drops are handled by paho's auto-reconnect.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed wraps a state, discovery or availability publish
	// that the broker did not acknowledge.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a command or service subscription the
	// broker rejected.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for empty topics, wildcards in a publish
	// topic, or misplaced wildcards in a subscription filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)

package connection

import "errors"

// Domain-specific errors for the connection manager.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrHandshakeFailed is reported when the broker handshake does not complete.
	ErrHandshakeFailed = errors.New("connection: handshake failed")

	// ErrAuthFailed is reported when the broker rejects the credentials.
	ErrAuthFailed = errors.New("connection: authentication failed")

	// ErrNetworkUnavailable is reported when the broker cannot be reached at all.
	ErrNetworkUnavailable = errors.New("connection: network unavailable")

	// ErrSubscribeFailed is returned when a subscription could not be asserted
	// on the wire. The registry keeps the entry for the next reconnect.
	ErrSubscribeFailed = errors.New("connection: subscribe failed")

	// ErrPublishFailed is returned when the transport rejected a publish.
	ErrPublishFailed = errors.New("connection: publish failed")

	// ErrListenerPanic is logged when a listener panics during dispatch.
	ErrListenerPanic = errors.New("connection: listener panicked")

	// ErrNotConnected is returned for operations that need a live session.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("connection: topic cannot be empty")

	// ErrInvalidQoS is returned when QoS is not 0, 1 or 2.
	ErrInvalidQoS = errors.New("connection: invalid QoS level (must be 0, 1, or 2)")

	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("connection: manager closed")
)

// maxQoS is the highest MQTT QoS level.
const maxQoS = 2

func validateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return nil
}

func validateQoS(qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// failureReason renders a connection error as the human-readable reason
// handed to listeners.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "connection lost"
	case errors.Is(err, ErrAuthFailed):
		return "authentication failed: " + err.Error()
	case errors.Is(err, ErrNetworkUnavailable):
		return "network unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

package mqtt

import (
	"errors"
	"fmt"
	"net"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected session.
	ErrNotConnected = errors.New("mqtt: session not connected")

	// ErrConnectionFailed is returned when the broker handshake fails for a
	// reason other than credentials or reachability.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrAuthRejected is returned when the broker refuses the credentials.
	ErrAuthRejected = errors.New("mqtt: credentials rejected")

	// ErrBrokerUnreachable is returned when no network path to the broker exists.
	ErrBrokerUnreachable = errors.New("mqtt: broker unreachable")

	// ErrTLSConfig is returned when TLS material cannot be loaded.
	ErrTLSConfig = errors.New("mqtt: invalid TLS configuration")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// classifyConnectError maps a paho connect error onto ErrAuthRejected,
// ErrBrokerUnreachable or ErrConnectionFailed. The original error stays in
// the chain.
func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %w", ErrAuthRejected, err)
	case errors.Is(err, packets.ErrorNetworkError), isNetError(err):
		return fmt.Errorf("%w: %w", ErrBrokerUnreachable, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
}

func isNetError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a refused filter.
const subackFailure = 0x80

// Subscribe asks the broker for messages matching filter.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "sensor/+" matches "sensor/data"
//   - # (multi-level): "sensor/#" matches everything under sensor
//
// Matching messages are delivered through the session's OnMessage callback.
// The session does not remember filters; the caller replays them after
// every new connection.
func (s *Session) Subscribe(filter string, qos byte) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	// nil handler routes deliveries to the default publish handler.
	token := s.client.Subscribe(filter, qos, nil)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, s.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, isSub := token.(*pahomqtt.SubscribeToken); isSub {
		if rc, ok := st.Result()[filter]; ok && rc == subackFailure {
			return fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, filter)
		}
	}

	return nil
}

// Unsubscribe stops delivery for filter. Messages already in flight may
// still arrive.
func (s *Session) Unsubscribe(filter string) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Unsubscribe(filter)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, s.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message on this session.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// The call waits up to the publish timeout for the broker acknowledgement.
// It never queues: a closed link returns ErrNotConnected.
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, s.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// publishStatus sends the retained presence message. Failures are logged only.
func (s *Session) publishStatus(status, reason string) {
	if s.opts.StatusTopic == "" {
		return
	}
	payload := StatusPayload(s.opts.ClientID, status, reason)
	if err := s.Publish(s.opts.StatusTopic, payload, 1, true); err != nil {
		s.logger.Warn("status publish failed", "status", status, "error", err)
	}
}

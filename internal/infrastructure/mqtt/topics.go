package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Topics the lighting controllers use.
const (
	// TopicAlarm carries alarm notifications from the controller.
	TopicAlarm = "alarm"

	// TopicSensorData carries periodic sensor readings.
	TopicSensorData = "sensor/data"

	// TopicTime carries the controller's clock.
	TopicTime = "time"

	// TopicControl carries lighting commands in both directions.
	TopicControl = "control"

	// TopicHeartbeat receives the client ID as a liveness probe.
	TopicHeartbeat = "heartbeat"

	// TopicRequest asks the controller to push fresh data.
	TopicRequest = "request"

	// TopicClientStatus receives retained online/offline status.
	TopicClientStatus = "client/status"
)

// Status values published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// maxTopicLength is the MQTT limit on UTF-8 encoded topic names.
const maxTopicLength = 65535

// StatusMessage is the retained presence message for this client.
type StatusMessage struct {
	ClientID  string `json:"clientId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatusPayload builds the JSON presence payload.
func StatusPayload(clientID, status, reason string) []byte {
	b, err := json.Marshal(StatusMessage{
		ClientID:  clientID,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings are marshalled; this cannot fail.
		return []byte(fmt.Sprintf(`{"clientId":%q,"status":%q}`, clientID, status))
	}
	return b
}

// ValidateTopic checks a topic name used for publishing.
// Wildcards are not allowed.
func ValidateTopic(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a topic filter used for subscribing.
// "+" must fill a whole level and "#" must be the whole last level.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchFilter reports whether topic matches the subscription filter.
func MatchFilter(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

func validateCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

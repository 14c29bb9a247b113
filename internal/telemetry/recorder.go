package telemetry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/mqtt"
)

// Writer is the subset of *influxdb.Client used here.
type Writer interface {
	WriteConnectionEvent(kind, reason string, at time.Time)
	WriteSensorReading(topic string, fields map[string]any, at time.Time)
	WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time)
}

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// maxFieldDepth bounds how deep nested JSON objects are flattened.
const maxFieldDepth = 3

// Recorder turns connection events and sensor messages into points.
// It implements connection.Listener. Writes are non-blocking.
type Recorder struct {
	w       Writer
	filters []string
	logger  Logger
	now     func() time.Time
}

// NewRecorder creates a recorder. filters selects the topics whose JSON
// payloads are recorded as sensor readings; empty means sensor/data.
func NewRecorder(w Writer, filters []string, logger Logger) *Recorder {
	if len(filters) == 0 {
		filters = []string{mqtt.TopicSensorData}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{w: w, filters: filters, logger: logger, now: time.Now}
}

// OnConnected implements connection.Listener.
func (r *Recorder) OnConnected() {
	r.w.WriteConnectionEvent("connected", "", r.now())
}

// OnConnectionFailed implements connection.Listener.
func (r *Recorder) OnConnectionFailed(reason string) {
	r.w.WriteConnectionEvent("failed", reason, r.now())
}

// OnMessageReceived implements connection.Listener.
func (r *Recorder) OnMessageReceived(topic, payload string) {
	if !r.matches(topic) {
		return
	}
	fields, err := NumericFields([]byte(payload))
	if err != nil {
		r.logger.Debug("sensor payload is not a JSON object", "topic", topic, "error", err)
		return
	}
	r.w.WriteSensorReading(topic, fields, r.now())
}

func (r *Recorder) matches(topic string) bool {
	for _, f := range r.filters {
		if mqtt.MatchFilter(f, topic) {
			return true
		}
	}
	return false
}

// NumericFields extracts the numeric and boolean leaves of a JSON object.
// Nested keys are joined with ".": {"room":{"lux":3}} gives "room.lux".
// Strings, arrays and nulls are skipped.
func NumericFields(payload []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	flatten("", obj, 0, fields)
	return fields, nil
}

func flatten(prefix string, obj map[string]any, depth int, out map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := obj[k].(type) {
		case float64, bool:
			out[name] = v
		case map[string]any:
			if depth+1 < maxFieldDepth {
				flatten(name, v, depth+1, out)
			}
		}
	}
}

package laststate

import (
	"context"
	"errors"
	"time"
)

// Connection event kinds.
const (
	EventConnected = "connected"
	EventFailed    = "failed"
)

// ErrNotFound is returned when no value has been seen on a topic.
var ErrNotFound = errors.New("laststate: no value for topic")

// Value is the most recent payload received on a topic.
type Value struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// ConnectionEvent is one connection transition.
type ConnectionEvent struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Repository stores last values and connection history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	Upsert(ctx context.Context, v Value) error
	Get(ctx context.Context, topic string) (Value, error)
	All(ctx context.Context) ([]Value, error)

	RecordEvent(ctx context.Context, ev ConnectionEvent) error
	RecentEvents(ctx context.Context, limit int) ([]ConnectionEvent, error)
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

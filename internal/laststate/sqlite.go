package laststate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200

	// timestampLayout has fixed width so stored timestamps sort as strings.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository implements Repository on the last_values and
// connection_events tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert stores v as the latest value for its topic.
func (r *SQLiteRepository) Upsert(ctx context.Context, v Value) error {
	if v.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if v.ReceivedAt.IsZero() {
		v.ReceivedAt = time.Now()
	}
	now := time.Now().UTC().Format(timestampLayout)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO last_values (topic, payload, received_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(topic) DO UPDATE SET
		     payload = excluded.payload,
		     received_at = excluded.received_at,
		     updated_at = excluded.updated_at`,
		v.Topic,
		v.Payload,
		v.ReceivedAt.UTC().Format(timestampLayout),
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting last value: %w", err)
	}
	return nil
}

// Get returns the latest value for topic, or ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, topic string) (Value, error) {
	var v Value
	var receivedAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT topic, payload, received_at FROM last_values WHERE topic = ?",
		topic,
	).Scan(&v.Topic, &v.Payload, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, ErrNotFound
	}
	if err != nil {
		return Value{}, fmt.Errorf("querying last value: %w", err)
	}

	if v.ReceivedAt, err = parseTimestamp(receivedAt); err != nil {
		return Value{}, err
	}
	return v, nil
}

// All returns every stored value ordered by topic.
func (r *SQLiteRepository) All(ctx context.Context) ([]Value, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT topic, payload, received_at FROM last_values ORDER BY topic",
	)
	if err != nil {
		return nil, fmt.Errorf("querying last values: %w", err)
	}
	defer rows.Close()

	values := []Value{}
	for rows.Next() {
		var v Value
		var receivedAt string
		if err := rows.Scan(&v.Topic, &v.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning last value: %w", err)
		}
		if v.ReceivedAt, err = parseTimestamp(receivedAt); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating last values: %w", err)
	}
	return values, nil
}

// RecordEvent appends a connection transition.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev ConnectionEvent) error {
	if ev.Kind != EventConnected && ev.Kind != EventFailed {
		return fmt.Errorf("unknown connection event kind %q", ev.Kind)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	var reason *string
	if ev.Reason != "" {
		reason = &ev.Reason
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO connection_events (kind, reason, occurred_at) VALUES (?, ?, ?)",
		ev.Kind,
		reason,
		ev.OccurredAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// RecentEvents returns connection transitions, newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) RecentEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, reason, occurred_at
		 FROM connection_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := make([]ConnectionEvent, 0, limit)
	for rows.Next() {
		var ev ConnectionEvent
		var reason sql.NullString
		var occurredAt string
		if err := rows.Scan(&ev.ID, &ev.Kind, &reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		ev.Reason = reason.String
		if ev.OccurredAt, err = parseTimestamp(occurredAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

// PruneEvents deletes connection events older than olderThan.
func (r *SQLiteRepository) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM connection_events WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting connection events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/config"
)

const (
	pingTimeout          = 5 * time.Second
	startupPingTimeout   = 10 * time.Second
	defaultBatchSize     = 100
	defaultFlushSeconds  = 10
	maxWriteRetries      = 3
	retryIntervalMillis  = 2000
	maxRetryBufferPoints = 10_000
)

// Client writes lightlink telemetry to an InfluxDB v2 bucket.
//
// Points go through the library's non-blocking write API: WritePoint never
// waits on the network, batches flush on size or interval, and failed
// batches are retried a few times before being reported through the
// SetOnError callback. Tags passed to Connect are added to every point.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.RWMutex
	open    bool
	onError func(err error)

	queued atomic.Int64
	failed atomic.Int64
}

// WriteStats counts points handed to the write API and batches it gave up on.
type WriteStats struct {
	Queued int64
	Failed int64
}

// Connect pings the server and returns a client bound to cfg.Org and
// cfg.Bucket. defaultTags (typically site and client_id) are stamped on
// every point; nil means none.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, defaultTags map[string]string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushSeconds
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * 1000).
		SetMaxRetries(maxWriteRetries).
		SetRetryInterval(retryIntervalMillis).
		SetRetryBufferLimit(maxRetryBufferPoints)
	for k, v := range defaultTags {
		if v != "" {
			opts.AddDefaultTag(k, v)
		}
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		open:     true,
	}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// forwardErrors drains the write API error channel until the client closes.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes what is buffered and releases the client. Safe on nil and
// safe to call twice.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if wasOpen {
		c.writeAPI.Flush()
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is still open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SetOnError sets the callback for failed batches.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Stats returns the write counters.
func (c *Client) Stats() WriteStats {
	return WriteStats{Queued: c.queued.Load(), Failed: c.failed.Load()}
}

// Flush sends buffered points now. No-op once closed.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

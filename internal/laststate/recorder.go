package laststate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/mqtt"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// Logger is the subset of logging.Logger the recorder uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Filters limits which topics are stored. Empty stores every topic.
	Filters []string

	// QueueSize bounds pending writes. Default: 256.
	QueueSize int

	// Logger is optional.
	Logger Logger
}

type job struct {
	value *Value
	event *ConnectionEvent
}

// Recorder persists inbound messages and connection transitions.
//
// It implements connection.Listener. Callbacks only enqueue; a single worker
// goroutine does the writes, so a slow disk never stalls message delivery.
// When the queue is full the write is dropped and counted.
type Recorder struct {
	repo    Repository
	filters []string
	logger  Logger

	queue   chan job
	dropped atomic.Int64
	written atomic.Int64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder creates a recorder writing to repo. Call Start to begin.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Recorder{
		repo:    repo,
		filters: cfg.Filters,
		logger:  cfg.Logger,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start runs the write worker until ctx is cancelled or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop drains queued writes and stops the worker. Safe to call multiple times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// OnConnected records a connected transition.
func (r *Recorder) OnConnected() {
	r.enqueue(job{event: &ConnectionEvent{Kind: EventConnected, OccurredAt: time.Now()}})
}

// OnConnectionFailed records a failed transition with its reason.
func (r *Recorder) OnConnectionFailed(reason string) {
	r.enqueue(job{event: &ConnectionEvent{Kind: EventFailed, Reason: reason, OccurredAt: time.Now()}})
}

// OnMessageReceived stores the payload as the topic's last value.
func (r *Recorder) OnMessageReceived(topic, payload string) {
	if !r.wanted(topic) {
		return
	}
	r.enqueue(job{value: &Value{Topic: topic, Payload: payload, ReceivedAt: time.Now()}})
}

// Dropped returns how many writes were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns how many writes succeeded.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

func (r *Recorder) wanted(topic string) bool {
	if len(r.filters) == 0 {
		return true
	}
	for _, f := range r.filters {
		if mqtt.MatchFilter(f, topic) {
			return true
		}
	}
	return false
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.queue <- j:
	default:
		r.dropped.Add(1)
		r.logger.Debug("last-state queue full, write dropped")
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case j := <-r.queue:
			r.write(j)
		case <-ctx.Done():
			r.drain()
			return
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case j := <-r.queue:
			r.write(j)
		default:
			return
		}
	}
}

func (r *Recorder) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	var err error
	switch {
	case j.value != nil:
		err = r.repo.Upsert(ctx, *j.value)
	case j.event != nil:
		err = r.repo.RecordEvent(ctx, *j.event)
	}
	if err != nil {
		r.logger.Warn("last-state write failed", "error", err)
		return
	}
	r.written.Add(1)
}

package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Session is one transport-level connection attempt.
type Session interface {
	// Publish sends a message. It returns once the transport has accepted
	// (QoS 0) or acknowledged (QoS 1/2) the message.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe asserts a subscription on the wire.
	Subscribe(topic string, qos byte) error

	// Unsubscribe removes a subscription on the wire.
	Unsubscribe(topic string) error

	// Disconnect tears the session down. Must be safe to call on a session
	// that never connected or already dropped.
	Disconnect()
}

// SessionEvents receives the raw events of one Session.
type SessionEvents struct {
	// OnConnected fires once when the handshake completes.
	OnConnected func()

	// OnConnectFailed fires once when the handshake fails or times out.
	OnConnectFailed func(err error)

	// OnConnectionLost fires when an established session drops.
	OnConnectionLost func(err error)

	// OnMessage fires for every inbound message, one at a time.
	OnMessage func(topic string, payload []byte)
}

// Transport starts sessions against a broker.
//
// Connect must return without waiting for the handshake. SessionEvents
// callbacks may run on any goroutine, including before Connect returns.
// A synchronous error means the attempt failed immediately.
type Transport interface {
	Connect(cfg Config, events SessionEvents) (Session, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Config is the initial broker configuration.
	Config Config

	// Transport starts sessions. Required.
	Transport Transport

	// Retry is the automatic reconnect policy. Zero value uses DefaultRetryPolicy.
	Retry RetryPolicy

	// Clock drives retry timers. Default: real time.
	Clock clock.Clock

	// Logger is optional.
	Logger Logger
}

// Stats is a point-in-time view of a Manager.
type Stats struct {
	State          State
	Generation     uint64
	Attempts       int
	LastAttempt    time.Time
	ConnectedSince time.Time
	Subscriptions  int
	Listeners      int
	RetryPending   bool
}

// Manager owns the connection lifecycle: connect, retry, forced reconnect,
// subscription replay and event fan-out.
//
// Every state transition happens under mu. Each attempt gets a generation
// number and its callbacks are dropped once a newer attempt exists, so a slow
// handshake that finishes after ForceReconnect cannot produce a second
// OnConnected. Transport I/O runs outside mu on a captured Session.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	transport  Transport
	clock      clock.Clock
	logger     Logger
	registry   *Registry
	dispatcher *Dispatcher

	mu             sync.RWMutex
	cfg            Config
	state          State
	gen            uint64
	session        Session
	backoff        backoff.BackOff
	retry          *clock.Timer
	retrySeq       uint64
	attempts       int
	lastAttempt    time.Time
	connectedSince time.Time
	closed         bool

	// earlyConnect holds the generation whose handshake completed before
	// dial recorded its session.
	earlyConnect uint64

	// status queues listener callbacks in transition order. Whoever finds
	// delivering unset drains it.
	status     []statusEvent
	delivering bool

	// subMu pairs each registry change with its wire request.
	subMu sync.Mutex
}

type statusEvent struct {
	connected bool
	reason    string
}

// NewManager creates a Manager in StateDisconnected. Call Connect to start.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Transport == nil {
		return nil, errors.New("connection: transport is required")
	}
	retry := opts.Retry
	if retry.Kind == "" {
		retry = DefaultRetryPolicy()
	}
	if err := retry.Validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	d := NewDispatcher()
	d.SetLogger(logger)

	return &Manager{
		transport:  opts.Transport,
		clock:      clk,
		logger:     logger,
		registry:   NewRegistry(),
		dispatcher: d,
		cfg:        opts.Config,
		state:      StateDisconnected,
		backoff:    retry.newBackOff(clk),
	}, nil
}

// Connect starts a connection attempt. It is a no-op while Connecting or
// Connected. From Reconnecting it cancels the pending retry and dials now.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	gen, cfg := m.beginAttemptLocked()
	m.mu.Unlock()

	m.dial(gen, cfg)
	return nil
}

// ForceReconnect tears down any live session and dials immediately, skipping
// the retry delay. Used for high-confidence recovery signals.
func (m *Manager) ForceReconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopRetryLocked()
	old := m.session
	m.session = nil
	prev := m.state
	gen, cfg := m.beginAttemptLocked()
	m.mu.Unlock()

	m.logger.Info("forcing reconnect", "previous_state", prev.String(), "generation", gen)

	if old != nil {
		old.Disconnect()
	}
	m.dial(gen, cfg)
	return nil
}

// Disconnect stops the session and all automatic retries. The Manager stays
// usable; Connect starts it again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopRetryLocked()
	old := m.session
	m.session = nil
	m.gen++
	m.state = StateDisconnected
	m.connectedSince = time.Time{}
	m.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	m.logger.Info("disconnected by request")
}

// Reconfigure replaces the broker configuration. A live or pending session is
// torn down and re-established with the new settings.
func (m *Manager) Reconfigure(cfg Config) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.cfg = cfg
	active := m.state != StateDisconnected
	m.mu.Unlock()

	if !active {
		return nil
	}
	return m.ForceReconnect()
}

// Close disconnects and releases every listener and subscription.
// The Manager cannot be reused.
func (m *Manager) Close() error {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.registry.Clear()
	m.dispatcher.Clear()
	return nil
}

// beginAttemptLocked moves to Connecting under a fresh generation.
func (m *Manager) beginAttemptLocked() (uint64, Config) {
	m.gen++
	m.state = StateConnecting
	m.attempts++
	m.lastAttempt = m.clock.Now()
	m.connectedSince = time.Time{}
	return m.gen, m.cfg
}

// dial runs the transport outside the lock and records the session if the
// attempt is still current.
func (m *Manager) dial(gen uint64, cfg Config) {
	m.logger.Debug("connecting", "broker", cfg.Address(), "client_id", cfg.ClientID, "generation", gen)

	sess, err := m.transport.Connect(cfg, m.eventsFor(gen))
	if err != nil {
		m.handleFailure(gen, err, false)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		sess.Disconnect()
		return
	}
	m.session = sess
	if m.earlyConnect != gen {
		m.mu.Unlock()
		return
	}
	m.earlyConnect = 0
	attempts, cfg := m.promoteLocked()
	m.mu.Unlock()

	m.finishConnected(gen, sess, cfg, attempts)
}

func (m *Manager) eventsFor(gen uint64) SessionEvents {
	return SessionEvents{
		OnConnected: func() {
			m.handleConnected(gen)
		},
		OnConnectFailed: func(err error) {
			m.handleFailure(gen, err, false)
		},
		OnConnectionLost: func(err error) {
			m.handleFailure(gen, err, true)
		},
		OnMessage: func(topic string, payload []byte) {
			m.handleMessage(gen, topic, payload)
		},
	}
}

func (m *Manager) handleConnected(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		current := m.gen
		m.mu.Unlock()
		m.logger.Debug("ignoring stale connect", "generation", gen, "current", current)
		return
	}
	if m.session == nil {
		// dial has not stored the session yet; it finishes the promotion.
		m.earlyConnect = gen
		m.mu.Unlock()
		return
	}
	sess := m.session
	attempts, cfg := m.promoteLocked()
	m.mu.Unlock()

	m.finishConnected(gen, sess, cfg, attempts)
}

// promoteLocked moves the current attempt to Connected.
func (m *Manager) promoteLocked() (int, Config) {
	m.state = StateConnected
	m.connectedSince = m.clock.Now()
	m.backoff.Reset()
	attempts := m.attempts
	m.attempts = 0
	return attempts, m.cfg
}

func (m *Manager) finishConnected(gen uint64, sess Session, cfg Config, attempts int) {
	m.logger.Info("connected",
		"broker", cfg.Address(),
		"client_id", cfg.ClientID,
		"attempts", attempts,
		"generation", gen,
	)

	m.replaySubscriptions(gen, sess)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		m.logger.Debug("connection superseded during subscription replay", "generation", gen)
		return
	}
	m.status = append(m.status, statusEvent{connected: true})
	m.mu.Unlock()

	m.deliverStatus()
}

// replaySubscriptions re-asserts every recorded subscription on sess.
// Failures are logged; entries stay in the registry for the next reconnect.
// It stops as soon as gen is no longer the live connection.
func (m *Manager) replaySubscriptions(gen uint64, sess Session) {
	for _, sub := range m.registry.Snapshot() {
		if !m.isLive(gen) {
			return
		}
		qos, ok := m.registry.QoS(sub.Topic)
		if !ok {
			continue
		}
		if err := sess.Subscribe(sub.Topic, qos); err != nil {
			m.logger.Warn("subscription replay failed",
				"topic", sub.Topic,
				"qos", qos,
				"error", fmt.Errorf("%w: %w", ErrSubscribeFailed, err),
			)
			continue
		}

		// Unsubscribe may have run while the request was in flight.
		m.subMu.Lock()
		if _, ok := m.registry.QoS(sub.Topic); !ok {
			if err := sess.Unsubscribe(sub.Topic); err != nil {
				m.logger.Warn("unsubscribe after replay failed", "topic", sub.Topic, "error", err)
			}
		}
		m.subMu.Unlock()
	}
}

func (m *Manager) isLive(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gen == m.gen && m.state == StateConnected
}

// deliverStatus runs queued status callbacks in order. A call made while
// another goroutine is delivering, or from inside a listener, returns at
// once and leaves its events to the goroutine already delivering.
func (m *Manager) deliverStatus() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.status) > 0 {
		ev := m.status[0]
		m.status = m.status[1:]
		m.mu.Unlock()

		if ev.connected {
			m.dispatcher.NotifyConnected()
		} else {
			m.dispatcher.NotifyConnectionFailed(ev.reason)
		}

		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) handleFailure(gen uint64, err error, lost bool) {
	m.mu.Lock()
	if gen != m.gen || m.closed || (m.state != StateConnecting && m.state != StateConnected) {
		current := m.gen
		m.mu.Unlock()
		m.logger.Debug("ignoring stale failure", "generation", gen, "current", current, "error", err)
		return
	}
	m.state = StateReconnecting
	old := m.session
	m.session = nil
	m.earlyConnect = 0
	m.connectedSince = time.Time{}
	delay, scheduled := m.scheduleRetryLocked()
	attempts := m.attempts
	m.status = append(m.status, statusEvent{reason: failureReason(err)})
	m.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	event := "connection attempt failed"
	if lost {
		event = "connection lost"
	}
	m.logger.Warn(event,
		"error", err,
		"attempt", attempts,
		"retry_in", delay,
		"retry_scheduled", scheduled,
	)

	m.deliverStatus()
}

// scheduleRetryLocked arms the retry timer unless one is already pending.
func (m *Manager) scheduleRetryLocked() (time.Duration, bool) {
	if m.retry != nil {
		return 0, false
	}
	delay := m.backoff.NextBackOff()
	m.retrySeq++
	seq := m.retrySeq
	m.retry = m.clock.AfterFunc(delay, func() {
		m.retryFired(seq)
	})
	return delay, true
}

func (m *Manager) stopRetryLocked() {
	if m.retry == nil {
		return
	}
	m.retry.Stop()
	m.retry = nil
	m.retrySeq++
}

func (m *Manager) retryFired(seq uint64) {
	m.mu.Lock()
	if seq != m.retrySeq || m.retry == nil {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	if m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	gen, cfg := m.beginAttemptLocked()
	m.mu.Unlock()

	m.dial(gen, cfg)
}

func (m *Manager) handleMessage(gen uint64, topic string, payload []byte) {
	m.mu.RLock()
	current := gen == m.gen
	m.mu.RUnlock()
	if !current {
		return
	}

	m.dispatcher.Dispatch(InboundMessage{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: m.clock.Now(),
	})
}

// liveSession returns the session only while Connected.
func (m *Manager) liveSession() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConnected {
		return nil
	}
	return m.session
}

// Publish sends payload to topic.
//
// Publishing never queues: while not connected it logs and returns
// ErrNotConnected so the caller can retry or tell the user. Transport errors
// are logged and returned wrapped in ErrPublishFailed.
func (m *Manager) Publish(topic, payload string, qos byte, retained bool) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if err := validateQoS(qos); err != nil {
		return err
	}

	sess := m.liveSession()
	if sess == nil {
		m.logger.Warn("publish dropped, not connected", "topic", topic, "state", m.State().String())
		return ErrNotConnected
	}

	if err := sess.Publish(topic, []byte(payload), qos, retained); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrPublishFailed, err)
		m.logger.Error("publish failed", "topic", topic, "qos", qos, "error", wrapped)
		return wrapped
	}
	return nil
}

// Subscribe records topic at qos and, when connected, asserts it on the wire.
//
// The subscription is kept even if the wire request fails; it is re-asserted
// on the next reconnect and the error is returned wrapped in ErrSubscribeFailed.
func (m *Manager) Subscribe(topic string, qos byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if err := validateQoS(qos); err != nil {
		return err
	}
	if m.isClosed() {
		return ErrClosed
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.registry.Put(topic, qos)

	sess := m.liveSession()
	if sess == nil {
		m.logger.Debug("subscription recorded for next connect", "topic", topic, "qos", qos)
		return nil
	}

	if err := sess.Subscribe(topic, qos); err != nil {
		wrapped := fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		m.logger.Warn("subscribe failed, will retry on reconnect", "topic", topic, "qos", qos, "error", wrapped)
		return wrapped
	}
	return nil
}

// Unsubscribe forgets topic and, when connected, asks the broker to drop it.
// Wire failures are logged only; the local entry is removed regardless.
func (m *Manager) Unsubscribe(topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.registry.Remove(topic)

	sess := m.liveSession()
	if sess == nil {
		return nil
	}
	if err := sess.Unsubscribe(topic); err != nil {
		m.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
	}
	return nil
}

// Subscriptions returns the recorded subscriptions.
func (m *Manager) Subscriptions() []Subscription {
	return m.registry.Snapshot()
}

// HasSubscription reports whether topic is recorded (exact match).
func (m *Manager) HasSubscription(topic string) bool {
	_, ok := m.registry.QoS(topic)
	return ok
}

// AddListener registers l for connection and message events.
func (m *Manager) AddListener(l Listener) *Registration {
	return m.dispatcher.AddListener(l)
}

// AddListenerContext registers l until ctx is done.
func (m *Manager) AddListenerContext(ctx context.Context, l Listener) *Registration {
	return m.dispatcher.AddListenerContext(ctx, l)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the state machine is in StateConnected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// StatusText returns the user-facing status string.
func (m *Manager) StatusText() string {
	return m.State().StatusText()
}

// Config returns the active broker configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Stats returns a snapshot of manager counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		State:          m.state,
		Generation:     m.gen,
		Attempts:       m.attempts,
		LastAttempt:    m.lastAttempt,
		ConnectedSince: m.connectedSince,
		RetryPending:   m.retry != nil,
	}
	m.mu.RUnlock()

	s.Subscriptions = m.registry.Len()
	s.Listeners = m.dispatcher.Len()
	return s
}

// HealthCheck reports ErrNotConnected unless the session is up.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("connection health check: %w", ctx.Err())
	default:
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Monitor defaults.
const (
	defaultMonitorInterval     = 30 * time.Second
	defaultMonitorFastInterval = 10 * time.Second
	defaultGraceWindow         = 10 * time.Second
	defaultDebounce            = 2 * time.Second
	defaultEventBuffer         = 16
)

// Target is what the Monitor watches and repairs. *Manager implements it.
type Target interface {
	State() State
	IsConnected() bool
	ForceReconnect() error
	Publish(topic, payload string, qos byte, retained bool) error
}

// Heartbeat is a message published on every slow tick while connected.
// A failed heartbeat on a link that claims to be up counts as silent death.
// Only QoS 1 and 2 heartbeats wait for the broker, so a QoS 0 heartbeat
// catches little beyond a closed socket; paho keepalive covers the rest.
type Heartbeat struct {
	Topic   string
	Payload string
	QoS     byte
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Interval is the slow check period. Default: 30s.
	Interval time.Duration

	// FastInterval is the quick-recovery check period. Default: 10s.
	FastInterval time.Duration

	// GraceWindow is how long the link may stay down before a forced
	// reconnect. Default: 10s.
	GraceWindow time.Duration

	// Debounce delays the check that follows an external event. Default: 2s.
	Debounce time.Duration

	// Heartbeats are published on each slow tick while connected.
	Heartbeats []Heartbeat

	// Clock drives tickers and timers. Default: real time.
	Clock clock.Clock

	// Logger is optional.
	Logger Logger
}

// MonitorStats counts what the Monitor has done.
type MonitorStats struct {
	Checks     int
	Reconnects int
	Coalesced  int
	ProbesSent int
	ProbeFails int
}

// Monitor detects dead or silently stalled connections and forces a
// reconnect. All checks are serialized; at most one ForceReconnect call is in
// progress at any time.
type Monitor struct {
	target Target
	cfg    MonitorConfig
	clock  clock.Clock
	logger Logger

	events chan Event

	// checkMu serializes checks, probes and forced reconnects.
	checkMu   sync.Mutex
	downSince time.Time
	stats     MonitorStats

	pendingMu  sync.Mutex
	pending    *clock.Timer
	pendingSeq uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a Monitor for target. Call Start to begin.
func NewMonitor(target Target, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMonitorInterval
	}
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = defaultMonitorFastInterval
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Monitor{
		target: target,
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		events: make(chan Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
}

// Start runs the monitor loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop ends the loop and cancels any pending delayed check.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.pendingMu.Lock()
		if m.pending != nil {
			m.pending.Stop()
			m.pending = nil
			m.pendingSeq++
		}
		m.pendingMu.Unlock()
	})
}

// Notify feeds an external trigger to the monitor without blocking.
// When the buffer is full the event is dropped; a check is already queued.
func (m *Monitor) Notify(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.clock.Now()
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("monitor event dropped, queue full", "event", ev.Kind.String())
	}
}

// Events returns the send side of the trigger channel.
func (m *Monitor) Events() chan<- Event {
	return m.events
}

// Stats returns a copy of the monitor counters.
func (m *Monitor) Stats() MonitorStats {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()
	return m.stats
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	slow := m.clock.Ticker(m.cfg.Interval)
	defer slow.Stop()
	fast := m.clock.Ticker(m.cfg.FastInterval)
	defer fast.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-slow.C:
			m.check("periodic")
			m.probe()
		case <-fast.C:
			m.check("fast")
		case ev := <-m.events:
			m.handleEvent(ev)
		}
	}
}

func (m *Monitor) handleEvent(ev Event) {
	switch ev.Kind {
	case EventTick:
		m.check(ev.Kind.String())
	case EventNetworkChanged, EventScreenUnlocked:
		m.scheduleDelayedCheck(ev)
	default:
		m.logger.Debug("ignoring unknown monitor event", "event", ev.Kind.String())
	}
}

// scheduleDelayedCheck arms one check after the debounce window. Events that
// arrive while it is pending are folded into it.
func (m *Monitor) scheduleDelayedCheck(ev Event) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if m.pending != nil {
		m.checkMu.Lock()
		m.stats.Coalesced++
		m.checkMu.Unlock()
		m.logger.Debug("reconnect check already pending", "event", ev.Kind.String())
		return
	}

	m.pendingSeq++
	seq := m.pendingSeq
	m.pending = m.clock.AfterFunc(m.cfg.Debounce, func() {
		m.delayedCheck(seq, ev)
	})
	m.logger.Debug("reconnect check scheduled",
		"event", ev.Kind.String(),
		"detail", ev.Detail,
		"delay", m.cfg.Debounce,
	)
}

func (m *Monitor) delayedCheck(seq uint64, ev Event) {
	m.pendingMu.Lock()
	if seq != m.pendingSeq || m.pending == nil {
		m.pendingMu.Unlock()
		return
	}
	m.pending = nil
	m.pendingMu.Unlock()

	m.checkMu.Lock()
	m.stats.Checks++
	if m.target.State() == StateDisconnected {
		m.checkMu.Unlock()
		return
	}
	if !m.target.IsConnected() {
		m.forceLocked(ev.Kind.String())
		m.checkMu.Unlock()
		return
	}
	m.checkMu.Unlock()

	// Link claims to be up; confirm it the same way the slow tick does.
	m.probe()
}

// check runs the grace-window test once. It reports whether a reconnect
// was forced.
func (m *Monitor) check(source string) bool {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.stats.Checks++

	// A manual disconnect is not ours to undo.
	if m.target.State() == StateDisconnected {
		m.downSince = time.Time{}
		return false
	}
	if m.target.IsConnected() {
		m.downSince = time.Time{}
		return false
	}

	now := m.clock.Now()
	if m.downSince.IsZero() {
		m.downSince = now
		return false
	}
	if now.Sub(m.downSince) < m.cfg.GraceWindow {
		return false
	}

	m.forceLocked(source)
	return true
}

// probe publishes the configured heartbeats while connected.
func (m *Monitor) probe() {
	if len(m.cfg.Heartbeats) == 0 {
		return
	}

	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	if !m.target.IsConnected() {
		return
	}
	for _, hb := range m.cfg.Heartbeats {
		err := m.target.Publish(hb.Topic, hb.Payload, hb.QoS, false)
		if err == nil {
			m.stats.ProbesSent++
			continue
		}
		if errors.Is(err, ErrNotConnected) {
			// Dropped between the check and the publish; the next tick handles it.
			return
		}
		m.stats.ProbeFails++
		m.logger.Warn("liveness probe failed", "topic", hb.Topic, "error", err)
		m.forceLocked("probe_failed")
		return
	}
}

// forceLocked calls ForceReconnect and restarts the grace window.
// Caller holds checkMu.
func (m *Monitor) forceLocked(source string) {
	m.stats.Reconnects++
	m.downSince = m.clock.Now()

	m.logger.Info("health monitor forcing reconnect", "source", source)
	if err := m.target.ForceReconnect(); err != nil {
		m.logger.Warn("forced reconnect rejected", "source", source, "error", err)
	}
}

package connection

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// fakeSession implements Session for testing.
type fakeSession struct {
	mu           sync.Mutex
	published    []publishedMessage
	subscribed   []Subscription
	unsubscribed []string
	disconnects  int

	publishErr   error
	subscribeErr error

	// wire is the broker-side view: topics subscribed and not since unsubscribed.
	wire map[string]byte

	// onSubscribe runs at the start of Subscribe, outside the session lock.
	onSubscribe func(topic string)
}

type publishedMessage struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

func (s *fakeSession) Publish(topic string, payload []byte, qos byte, retained bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, publishedMessage{topic, string(payload), qos, retained})
	return nil
}

func (s *fakeSession) Subscribe(topic string, qos byte) error {
	s.mu.Lock()
	hook := s.onSubscribe
	s.mu.Unlock()
	if hook != nil {
		hook(topic)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.subscribed = append(s.subscribed, Subscription{Topic: topic, QoS: qos})
	if s.wire == nil {
		s.wire = make(map[string]byte)
	}
	s.wire[topic] = qos
	return nil
}

func (s *fakeSession) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, topic)
	delete(s.wire, topic)
	return nil
}

func (s *fakeSession) setOnSubscribe(fn func(topic string)) {
	s.mu.Lock()
	s.onSubscribe = fn
	s.mu.Unlock()
}

func (s *fakeSession) wireTopics() map[string]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]byte, len(s.wire))
	for k, v := range s.wire {
		out[k] = v
	}
	return out
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

func (s *fakeSession) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects > 0
}

func (s *fakeSession) getSubscribed() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

func (s *fakeSession) getPublished() []publishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]publishedMessage, len(s.published))
	copy(out, s.published)
	return out
}

// fakeTransport implements Transport for testing. Every Connect call creates
// a fakeSession and records the callbacks so tests can drive them.
type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeSession
	events   []SessionEvents
	configs  []Config

	connectErr error

	// during runs inside Connect, before it returns.
	during func(ev SessionEvents)
}

func (t *fakeTransport) Connect(cfg Config, ev SessionEvents) (Session, error) {
	t.mu.Lock()
	t.configs = append(t.configs, cfg)
	if t.connectErr != nil {
		err := t.connectErr
		t.sessions = append(t.sessions, nil)
		t.events = append(t.events, ev)
		t.mu.Unlock()
		return nil, err
	}
	sess := &fakeSession{}
	t.sessions = append(t.sessions, sess)
	t.events = append(t.events, ev)
	during := t.during
	t.mu.Unlock()

	if during != nil {
		during(ev)
	}
	return sess, nil
}

func (t *fakeTransport) attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func (t *fakeTransport) attempt(i int) (*fakeSession, SessionEvents) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i], t.events[i]
}

func (t *fakeTransport) last() (*fakeSession, SessionEvents) {
	t.mu.Lock()
	n := len(t.events)
	t.mu.Unlock()
	return t.attempt(n - 1)
}

func (t *fakeTransport) allSessions() []*fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*fakeSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// recordingListener counts events.
type recordingListener struct {
	mu        sync.Mutex
	connected int
	failures  []string
	messages  []publishedMessage
}

func (l *recordingListener) OnConnected() {
	l.mu.Lock()
	l.connected++
	l.mu.Unlock()
}

func (l *recordingListener) OnConnectionFailed(reason string) {
	l.mu.Lock()
	l.failures = append(l.failures, reason)
	l.mu.Unlock()
}

func (l *recordingListener) OnMessageReceived(topic, payload string) {
	l.mu.Lock()
	l.messages = append(l.messages, publishedMessage{topic: topic, payload: payload})
	l.mu.Unlock()
}

func (l *recordingListener) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected, len(l.failures), len(l.messages)
}

// sequenceListener records status callbacks in the order they arrive.
type sequenceListener struct {
	mu     sync.Mutex
	events []string
}

func (l *sequenceListener) OnConnected() {
	l.mu.Lock()
	l.events = append(l.events, "connected")
	l.mu.Unlock()
}

func (l *sequenceListener) OnConnectionFailed(string) {
	l.mu.Lock()
	l.events = append(l.events, "failed")
	l.mu.Unlock()
}

func (l *sequenceListener) OnMessageReceived(string, string) {}

func (l *sequenceListener) sequence() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// waitFor polls cond until it holds or the deadline passes. Mock clock timers
// fire their callbacks on separate goroutines.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *clock.Mock) {
	t.Helper()
	tr := &fakeTransport{}
	clk := clock.NewMock()
	m, err := NewManager(ManagerOptions{
		Config:    Config{Host: "broker.local", Port: 1883, ClientID: "test-client"},
		Transport: tr,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, tr, clk
}

func TestNewManagerRequiresTransport(t *testing.T) {
	if _, err := NewManager(ManagerOptions{}); err == nil {
		t.Error("NewManager() without transport should fail")
	}
}

func TestNewManagerRejectsBadRetryPolicy(t *testing.T) {
	_, err := NewManager(ManagerOptions{
		Transport: &fakeTransport{},
		Retry:     RetryPolicy{Kind: "linear"},
	})
	if err == nil {
		t.Error("NewManager() with unknown retry kind should fail")
	}
}

func TestManagerConnect(t *testing.T) {
	m, tr, _ := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	if got := m.State(); got != StateDisconnected {
		t.Fatalf("initial State() = %v, want disconnected", got)
	}
	if got := m.StatusText(); got != StatusTextDisconnected {
		t.Errorf("StatusText() = %q, want %q", got, StatusTextDisconnected)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := m.State(); got != StateConnecting {
		t.Errorf("State() after Connect = %v, want connecting", got)
	}
	if got := m.StatusText(); got != StatusTextConnecting {
		t.Errorf("StatusText() = %q, want %q", got, StatusTextConnecting)
	}

	// Connect while an attempt is in flight is a no-op.
	if err := m.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if got := tr.attempts(); got != 1 {
		t.Errorf("transport attempts = %d, want 1", got)
	}

	_, ev := tr.last()
	ev.OnConnected()

	if !m.IsConnected() {
		t.Fatal("IsConnected() = false after OnConnected")
	}
	if got := m.StatusText(); got != StatusTextConnected {
		t.Errorf("StatusText() = %q, want %q", got, StatusTextConnected)
	}
	if c, f, _ := l.counts(); c != 1 || f != 0 {
		t.Errorf("listener connected=%d failures=%d, want 1/0", c, f)
	}

	// Connect while connected is a no-op.
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect() while connected error = %v", err)
	}
	if got := tr.attempts(); got != 1 {
		t.Errorf("transport attempts = %d, want 1", got)
	}
	if cfg := tr.configs[0]; cfg.ClientID != "test-client" || cfg.Address() != "broker.local:1883" {
		t.Errorf("transport config = %+v", cfg)
	}
}

func TestManagerSynchronousConnectError(t *testing.T) {
	m, tr, _ := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	tr.connectErr = errors.New("dial tcp: connection refused")
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if got := m.State(); got != StateReconnecting {
		t.Errorf("State() = %v, want reconnecting", got)
	}
	if !m.Stats().RetryPending {
		t.Error("Stats().RetryPending = false, want true")
	}
	if _, f, _ := l.counts(); f != 1 {
		t.Errorf("listener failures = %d, want 1", f)
	}
}

func TestManagerReplaysSubscriptionsOnEveryConnect(t *testing.T) {
	m, tr, clk := newTestManager(t)

	// Recorded while disconnected; nothing goes on the wire yet.
	if err := m.Subscribe("sensor/data", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := m.Subscribe("alarm", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !m.HasSubscription("sensor/data") {
		t.Error("HasSubscription(sensor/data) = false")
	}

	_ = m.Connect()
	first, ev := tr.last()
	ev.OnConnected()

	want := []Subscription{{Topic: "alarm", QoS: 1}, {Topic: "sensor/data", QoS: 1}}
	assertSubscriptions(t, first.getSubscribed(), want)

	// Drop and let the retry timer reconnect.
	ev.OnConnectionLost(errors.New("EOF"))
	if got := m.State(); got != StateReconnecting {
		t.Fatalf("State() after loss = %v, want reconnecting", got)
	}
	clk.Add(DefaultRetryPolicy().InitialDelay)
	waitFor(t, "retry attempt", func() bool { return tr.attempts() == 2 })

	second, ev2 := tr.last()
	ev2.OnConnected()

	assertSubscriptions(t, second.getSubscribed(), want)
	assertSubscriptions(t, first.getSubscribed(), want)
}

func assertSubscriptions(t *testing.T, got, want []Subscription) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("subscriptions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subscription[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestManagerSubscribeWhileConnected(t *testing.T) {
	m, tr, _ := newTestManager(t)
	_ = m.Connect()
	sess, ev := tr.last()
	ev.OnConnected()

	if err := m.Subscribe("time", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	assertSubscriptions(t, sess.getSubscribed(), []Subscription{{Topic: "time", QoS: 1}})

	sess.mu.Lock()
	sess.subscribeErr = errors.New("suback refused")
	sess.mu.Unlock()

	err := m.Subscribe("control", 2)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if !m.HasSubscription("control") {
		t.Error("failed subscription should stay recorded for the next reconnect")
	}

	if err := m.Unsubscribe("time"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if m.HasSubscription("time") {
		t.Error("HasSubscription(time) = true after Unsubscribe")
	}
	sess.mu.Lock()
	unsubs := append([]string(nil), sess.unsubscribed...)
	sess.mu.Unlock()
	if len(unsubs) != 1 || unsubs[0] != "time" {
		t.Errorf("wire unsubscribes = %v, want [time]", unsubs)
	}
}

func TestManagerSubscribeValidation(t *testing.T) {
	m, _, _ := newTestManager(t)

	tests := []struct {
		name  string
		topic string
		qos   byte
		want  error
	}{
		{"empty topic", "", 0, ErrInvalidTopic},
		{"qos too high", "alarm", 3, ErrInvalidQoS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Subscribe(tt.topic, tt.qos); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if err := m.Publish(tt.topic, "x", tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestManagerPublish(t *testing.T) {
	m, tr, _ := newTestManager(t)

	t.Run("not connected", func(t *testing.T) {
		err := m.Publish("request", `{"action":"getData"}`, 1, false)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
	})

	_ = m.Connect()
	sess, ev := tr.last()

	t.Run("connecting", func(t *testing.T) {
		err := m.Publish("request", `{"action":"getData"}`, 1, false)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
	})

	ev.OnConnected()

	t.Run("connected", func(t *testing.T) {
		if err := m.Publish("control", `{"light":"on"}`, 1, true); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		got := sess.getPublished()
		if len(got) != 1 {
			t.Fatalf("published %d messages, want 1", len(got))
		}
		if got[0].topic != "control" || got[0].payload != `{"light":"on"}` || got[0].qos != 1 || !got[0].retained {
			t.Errorf("published = %+v", got[0])
		}
	})

	t.Run("transport error", func(t *testing.T) {
		cause := errors.New("write: broken pipe")
		sess.mu.Lock()
		sess.publishErr = cause
		sess.mu.Unlock()

		err := m.Publish("control", "{}", 0, false)
		if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, cause) {
			t.Errorf("Publish() error = %v, want ErrPublishFailed wrapping cause", err)
		}
	})
}

func TestManagerPublishControlWhileDisconnected(t *testing.T) {
	tr := &fakeTransport{}
	logger := &capturingLogger{}
	m, err := NewManager(ManagerOptions{
		Config:    Config{Host: "broker.local", Port: 1883, ClientID: "test-client"},
		Transport: tr,
		Clock:     clock.NewMock(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	err = m.Publish("control", `{"level1":3}`, 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if logger.warnCount() != 1 {
		t.Errorf("warnings logged = %d, want 1", logger.warnCount())
	}
	if tr.attempts() != 0 {
		t.Errorf("Publish() started %d sessions, want 0", tr.attempts())
	}
}

func TestManagerSensorDataDelivery(t *testing.T) {
	m, tr, _ := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.Subscribe("sensor/data", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	_ = m.Connect()
	_, ev := tr.last()
	ev.OnConnected()

	payload := `{"temperature":21.5,"humidity":40}`
	ev.OnMessage("sensor/data", []byte(payload))

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) != 1 {
		t.Fatalf("listener got %d messages, want 1", len(l.messages))
	}
	if l.messages[0].topic != "sensor/data" || l.messages[0].payload != payload {
		t.Errorf("message = %+v", l.messages[0])
	}
}

func TestManagerStaleCallbacksIgnored(t *testing.T) {
	m, tr, _ := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	_ = m.Connect()
	oldSess, oldEv := tr.last()

	if err := m.ForceReconnect(); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}
	if !oldSess.isDisconnected() {
		t.Error("superseded session was not disconnected")
	}

	// The old handshake finishes late: it must not count.
	oldEv.OnConnected()
	oldEv.OnMessage("alarm", []byte("late"))
	oldEv.OnConnectionLost(errors.New("late loss"))

	if got := m.State(); got != StateConnecting {
		t.Fatalf("State() = %v after stale callbacks, want connecting", got)
	}
	if c, f, msgs := l.counts(); c != 0 || f != 0 || msgs != 0 {
		t.Errorf("listener saw stale events: connected=%d failures=%d messages=%d", c, f, msgs)
	}

	_, ev := tr.last()
	ev.OnConnected()
	ev.OnConnected()

	if c, _, _ := l.counts(); c != 1 {
		t.Errorf("listener connected = %d, want exactly 1", c)
	}
	if got := m.Stats().Generation; got != 2 {
		t.Errorf("Stats().Generation = %d, want 2", got)
	}
}

func TestManagerHandshakeBeforeSessionRecorded(t *testing.T) {
	tr := &fakeTransport{}
	tr.during = func(ev SessionEvents) { ev.OnConnected() }

	m, err := NewManager(ManagerOptions{Transport: tr, Clock: clock.NewMock()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	l := &recordingListener{}
	m.AddListener(l)
	_ = m.Subscribe("alarm", 1)
	_ = m.Connect()

	if !m.IsConnected() {
		t.Fatalf("State() = %v, want connected", m.State())
	}
	sess, _ := tr.last()
	assertSubscriptions(t, sess.getSubscribed(), []Subscription{{Topic: "alarm", QoS: 1}})
	if c, _, _ := l.counts(); c != 1 {
		t.Errorf("listener connected = %d, want 1", c)
	}
}

func TestManagerRetryScheduledOnce(t *testing.T) {
	m, tr, clk := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	_ = m.Connect()
	_, ev := tr.last()

	ev.OnConnectFailed(errors.New("handshake timeout"))
	ev.OnConnectionLost(errors.New("duplicate report"))

	if _, f, _ := l.counts(); f != 1 {
		t.Errorf("listener failures = %d, want 1", f)
	}
	if !m.Stats().RetryPending {
		t.Fatal("no retry pending after failure")
	}

	// Not yet due.
	clk.Add(DefaultRetryPolicy().InitialDelay - time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if got := tr.attempts(); got != 1 {
		t.Fatalf("attempts = %d before retry delay elapsed, want 1", got)
	}

	clk.Add(time.Millisecond)
	waitFor(t, "retry attempt", func() bool { return tr.attempts() == 2 })

	clk.Add(time.Minute)
	time.Sleep(5 * time.Millisecond)
	if got := tr.attempts(); got != 2 {
		t.Errorf("attempts = %d, want 2 (one retry per failure)", got)
	}
}

func TestManagerBackoffGrowsAndResets(t *testing.T) {
	m, tr, clk := newTestManager(t)
	_ = m.Connect()

	delays := []time.Duration{3 * time.Second, 4500 * time.Millisecond, 6750 * time.Millisecond}
	for i, d := range delays {
		_, ev := tr.last()
		ev.OnConnectFailed(errors.New("refused"))

		clk.Add(d - time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		if got := tr.attempts(); got != i+1 {
			t.Fatalf("retry %d fired early: attempts = %d", i, got)
		}
		clk.Add(time.Millisecond)
		waitFor(t, "retry attempt", func() bool { return tr.attempts() == i+2 })
	}

	_, ev := tr.last()
	ev.OnConnected()
	ev.OnConnectionLost(errors.New("EOF"))

	// Backoff restarted at the initial delay.
	clk.Add(3 * time.Second)
	waitFor(t, "retry after reset", func() bool { return tr.attempts() == len(delays)+2 })
}

func TestManagerDisconnectStopsRetries(t *testing.T) {
	m, tr, clk := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	_ = m.Connect()
	_, ev := tr.last()
	ev.OnConnectFailed(errors.New("refused"))

	m.Disconnect()
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", got)
	}
	if m.Stats().RetryPending {
		t.Error("retry still pending after Disconnect")
	}

	clk.Add(5 * time.Minute)
	time.Sleep(5 * time.Millisecond)
	if got := tr.attempts(); got != 1 {
		t.Errorf("attempts = %d after Disconnect, want 1", got)
	}

	ev.OnConnectionLost(errors.New("late"))
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State() = %v after late callback, want disconnected", got)
	}
}

func TestManagerDisconnectWhileConnected(t *testing.T) {
	m, tr, _ := newTestManager(t)
	_ = m.Connect()
	sess, ev := tr.last()
	ev.OnConnected()

	m.Disconnect()
	if !sess.isDisconnected() {
		t.Error("session not disconnected")
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}

	// Connect works again afterwards.
	_ = m.Connect()
	if got := tr.attempts(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestManagerReconfigure(t *testing.T) {
	m, tr, _ := newTestManager(t)

	// While disconnected only the stored config changes.
	next := Config{Host: "10.0.0.5", Port: 8883, ClientID: "lamp", UseTLS: true}
	if err := m.Reconfigure(next); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if tr.attempts() != 0 {
		t.Fatal("Reconfigure() while disconnected should not dial")
	}
	if got := m.Config(); got != next {
		t.Errorf("Config() = %+v, want %+v", got, next)
	}

	_ = m.Connect()
	sess, ev := tr.last()
	ev.OnConnected()

	other := Config{Host: "10.0.0.6", Port: 1883, ClientID: "lamp"}
	if err := m.Reconfigure(other); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if !sess.isDisconnected() {
		t.Error("old session not torn down")
	}
	if got := tr.attempts(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	tr.mu.Lock()
	got := tr.configs[1]
	tr.mu.Unlock()
	if got != other {
		t.Errorf("new attempt config = %+v, want %+v", got, other)
	}
}

func TestManagerClose(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.AddListener(&recordingListener{})
	_ = m.Subscribe("alarm", 1)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Connect(); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
	if err := m.ForceReconnect(); !errors.Is(err, ErrClosed) {
		t.Errorf("ForceReconnect() after Close error = %v, want ErrClosed", err)
	}
	if err := m.Subscribe("alarm", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrClosed", err)
	}
	s := m.Stats()
	if s.Subscriptions != 0 || s.Listeners != 0 {
		t.Errorf("Stats() after Close = %+v, want no subscriptions or listeners", s)
	}
}

func TestManagerListenerPanicIsolated(t *testing.T) {
	m, tr, _ := newTestManager(t)
	m.AddListener(ListenerFuncs{
		MessageReceived: func(string, string) { panic("bad listener") },
	})
	l := &recordingListener{}
	m.AddListener(l)

	_ = m.Connect()
	_, ev := tr.last()
	ev.OnConnected()
	ev.OnMessage("alarm", []byte("smoke"))
	ev.OnMessage("alarm", []byte("smoke again"))

	if _, _, msgs := l.counts(); msgs != 2 {
		t.Errorf("second listener got %d messages, want 2", msgs)
	}
	if !m.IsConnected() {
		t.Error("listener panic changed connection state")
	}
}

func TestManagerFailureReasonReachesListener(t *testing.T) {
	m, tr, _ := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)

	_ = m.Connect()
	_, ev := tr.last()
	ev.OnConnectFailed(errors.Join(ErrAuthFailed, errors.New("not authorized")))

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(l.failures))
	}
	if got := l.failures[0]; len(got) == 0 || got[:len("authentication failed")] != "authentication failed" {
		t.Errorf("reason = %q, want authentication prefix", got)
	}
}

func TestManagerHealthCheck(t *testing.T) {
	m, tr, _ := newTestManager(t)
	ctx := t.Context()

	if err := m.HealthCheck(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	_ = m.Connect()
	_, ev := tr.last()
	ev.OnConnected()
	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// TestManagerAtMostOneLiveSession drives a random mix of operations and
// transport callbacks and checks that no two sessions are ever live together
// and that OnConnected never outnumbers the Connected transitions.
func TestManagerAtMostOneLiveSession(t *testing.T) {
	m, tr, clk := newTestManager(t)
	l := &recordingListener{}
	m.AddListener(l)
	rng := rand.New(rand.NewSource(42))

	connectedTransitions := 0
	for step := 0; step < 500; step++ {
		before := m.State()

		switch op := rng.Intn(8); op {
		case 0:
			_ = m.Connect()
		case 1:
			_ = m.ForceReconnect()
		case 2:
			m.Disconnect()
		case 3, 4:
			if tr.attempts() > 0 {
				_, ev := tr.attempt(rng.Intn(tr.attempts()))
				ev.OnConnected()
			}
		case 5:
			if tr.attempts() > 0 {
				_, ev := tr.attempt(rng.Intn(tr.attempts()))
				ev.OnConnectFailed(errors.New("refused"))
			}
		case 6:
			if tr.attempts() > 0 {
				_, ev := tr.attempt(rng.Intn(tr.attempts()))
				ev.OnConnectionLost(errors.New("EOF"))
			}
		case 7:
			clk.Add(time.Duration(rng.Intn(5000)) * time.Millisecond)
			time.Sleep(10 * time.Millisecond)
		}

		if before != StateConnected && m.State() == StateConnected {
			connectedTransitions++
		}

		live := 0
		for _, s := range tr.allSessions() {
			if !s.isDisconnected() {
				live++
			}
		}
		if live > 1 {
			t.Fatalf("step %d: %d live sessions", step, live)
		}
	}

	// Let any in-flight retry callbacks settle before comparing counts.
	m.Disconnect()
	time.Sleep(5 * time.Millisecond)

	if c, _, _ := l.counts(); c > connectedTransitions+1 {
		t.Errorf("OnConnected = %d, connected transitions observed = %d", c, connectedTransitions)
	}
}

// The replay of a fresh connection can be cut short by a drop or by a
// local teardown; listeners must never hear about the superseded connection
// after the event that superseded it.
func TestManagerTransitionDuringReplay(t *testing.T) {
	tests := []struct {
		name      string
		interrupt func(m *Manager, ev SessionEvents)
		wantState State
		wantSeq   []string
	}{
		{
			name: "connection lost",
			interrupt: func(_ *Manager, ev SessionEvents) {
				ev.OnConnectionLost(errors.New("EOF"))
			},
			wantState: StateReconnecting,
			wantSeq:   []string{"failed"},
		},
		{
			name: "force reconnect",
			interrupt: func(m *Manager, _ SessionEvents) {
				_ = m.ForceReconnect()
			},
			wantState: StateConnecting,
			wantSeq:   nil,
		},
		{
			name: "disconnect",
			interrupt: func(m *Manager, _ SessionEvents) {
				m.Disconnect()
			},
			wantState: StateDisconnected,
			wantSeq:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, tr, _ := newTestManager(t)
			l := &sequenceListener{}
			m.AddListener(l)

			for _, topic := range []string{"alarm", "sensor/data", "time"} {
				if err := m.Subscribe(topic, 1); err != nil {
					t.Fatalf("Subscribe(%q) error = %v", topic, err)
				}
			}
			_ = m.Connect()
			sess, ev := tr.last()
			sess.setOnSubscribe(func(topic string) {
				if topic == "alarm" {
					tt.interrupt(m, ev)
				}
			})
			ev.OnConnected()

			if got := m.State(); got != tt.wantState {
				t.Errorf("State() = %v, want %v", got, tt.wantState)
			}
			got := l.sequence()
			if len(got) != len(tt.wantSeq) {
				t.Fatalf("listener sequence = %v, want %v", got, tt.wantSeq)
			}
			for i := range got {
				if got[i] != tt.wantSeq[i] {
					t.Fatalf("listener sequence = %v, want %v", got, tt.wantSeq)
				}
			}
			if subs := sess.getSubscribed(); len(subs) > 1 {
				t.Errorf("replay continued on a superseded session: %+v", subs)
			}
		})
	}
}

func TestManagerForceReconnectDuringReplayConnectsOnce(t *testing.T) {
	m, tr, _ := newTestManager(t)
	l := &sequenceListener{}
	m.AddListener(l)

	_ = m.Subscribe("alarm", 1)
	_ = m.Connect()
	sess, ev := tr.last()
	sess.setOnSubscribe(func(string) { _ = m.ForceReconnect() })
	ev.OnConnected()

	_, next := tr.last()
	next.OnConnected()

	got := l.sequence()
	if len(got) != 1 || got[0] != "connected" {
		t.Errorf("listener sequence = %v, want [connected]", got)
	}
	if !m.IsConnected() {
		t.Errorf("State() = %v, want connected", m.State())
	}
}

func TestManagerUnsubscribeDuringReplay(t *testing.T) {
	tests := []struct {
		name    string
		trigger string // replayed topic whose wire request runs the Unsubscribe
	}{
		{name: "before the topic replays", trigger: "alarm"},
		{name: "while the topic replays", trigger: "time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, tr, _ := newTestManager(t)
			_ = m.Subscribe("alarm", 1)
			_ = m.Subscribe("time", 1)

			_ = m.Connect()
			sess, ev := tr.last()
			var once sync.Once
			sess.setOnSubscribe(func(topic string) {
				if topic == tt.trigger {
					once.Do(func() {
						if err := m.Unsubscribe("time"); err != nil {
							t.Errorf("Unsubscribe() error = %v", err)
						}
					})
				}
			})
			ev.OnConnected()

			if m.HasSubscription("time") {
				t.Error("registry still holds time")
			}
			wire := sess.wireTopics()
			if _, ok := wire["time"]; ok {
				t.Errorf("broker still subscribed to time: %v", wire)
			}
			if qos, ok := wire["alarm"]; !ok || qos != 1 {
				t.Errorf("broker subscriptions = %v, want alarm at QoS 1", wire)
			}
		})
	}
}

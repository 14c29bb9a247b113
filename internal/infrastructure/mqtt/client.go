package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Callbacks receives the events of one Session. Any field may be nil.
//
// OnConnected and OnConnectFailed are mutually exclusive and fire at most
// once. OnMessage is called from a single goroutine, one message at a time.
type Callbacks struct {
	OnConnected      func()
	OnConnectFailed  func(err error)
	OnConnectionLost func(err error)
	OnMessage        func(topic string, payload []byte)
}

// Session is one connection attempt to the broker and, if it succeeds, the
// link it produces. A Session never reconnects by itself: once it drops or
// fails, the owner dials a new one.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	client pahomqtt.Client
	opts   Options
	cb     Callbacks
	logger Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial starts connecting to the broker and returns immediately.
//
// The outcome arrives through cb.OnConnected or cb.OnConnectFailed. A
// returned error means the attempt could not start (bad options or TLS
// material) and no callback will fire.
func Dial(opts Options, cb Callbacks) (*Session, error) {
	opts = opts.withDefaults()
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: broker host is empty", ErrConnectionFailed)
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID is empty", ErrConnectionFailed)
	}

	s := &Session{
		opts:   opts,
		cb:     cb,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}

	pahoOpts, err := buildClientOptions(opts, s.handleMessage)
	if err != nil {
		return nil, err
	}
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})

	s.client = pahomqtt.NewClient(pahoOpts)
	token := s.client.Connect()
	go s.awaitConnect(token)

	return s, nil
}

// awaitConnect turns the connect token into exactly one callback.
func (s *Session) awaitConnect(token pahomqtt.Token) {
	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-s.done:
		return
	case <-time.After(s.opts.ConnectTimeout + s.opts.PublishTimeout):
		err = fmt.Errorf("%w after %v", ErrTimeout, s.opts.ConnectTimeout)
	}

	if s.closed.Load() {
		return
	}
	if err != nil {
		s.client.Disconnect(0)
		if s.cb.OnConnectFailed != nil {
			s.cb.OnConnectFailed(classifyConnectError(err))
		}
		return
	}

	s.publishStatus(StatusOnline, "")
	if s.closed.Load() {
		return
	}
	if s.cb.OnConnected != nil {
		s.cb.OnConnected()
	}
}

func (s *Session) handleConnectionLost(err error) {
	if s.closed.Load() {
		return
	}
	s.logger.Debug("mqtt connection lost", "client_id", s.opts.ClientID, "error", err)
	if s.cb.OnConnectionLost != nil {
		s.cb.OnConnectionLost(fmt.Errorf("%w: %w", ErrBrokerUnreachable, err))
	}
}

// handleMessage is the paho default publish handler.
func (s *Session) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("MQTT handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	if s.closed.Load() || s.cb.OnMessage == nil {
		return
	}
	s.cb.OnMessage(msg.Topic(), msg.Payload())
}

// Disconnect closes the session. When the link is up it first publishes a
// graceful offline status so the Last Will is not used. Safe to call more
// than once and on a session that never connected.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		if s.IsConnected() {
			s.publishStatus(StatusOffline, "graceful_shutdown")
		}
		s.closed.Store(true)
		close(s.done)
		s.client.Disconnect(s.opts.DisconnectQuiesce)
	})
}

// IsConnected reports whether the network link is currently open.
func (s *Session) IsConnected() bool {
	if s.client == nil {
		return false
	}
	return s.client.IsConnectionOpen()
}

// ClientID returns the MQTT client identifier of this session.
func (s *Session) ClientID() string {
	return s.opts.ClientID
}

// HealthCheck verifies the link is open.
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

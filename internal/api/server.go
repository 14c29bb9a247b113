package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lightlink/internal/audit"
	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lightlink/internal/laststate"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Connection is the part of connection.Manager the API drives.
type Connection interface {
	Connect() error
	ForceReconnect() error
	Disconnect()
	Reconfigure(cfg connection.Config) error

	Publish(topic, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Subscriptions() []connection.Subscription

	AddListener(l connection.Listener) *connection.Registration
	StatusText() string
	Config() connection.Config
	Stats() connection.Stats
}

// Monitor is the part of connection.Monitor the API reads and pokes.
type Monitor interface {
	Notify(ev connection.Event)
	Stats() connection.MonitorStats
}

// ValueStore is the read side of the last-value store.
type ValueStore interface {
	Get(ctx context.Context, topic string) (laststate.Value, error)
	All(ctx context.Context) ([]laststate.Value, error)
	RecentEvents(ctx context.Context, limit int) ([]laststate.ConnectionEvent, error)
}

// RecorderStats reports last-value recorder throughput for /metrics.
type RecorderStats interface {
	Written() int64
	Dropped() int64
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Connection Connection
	Monitor    Monitor          // optional
	Values     ValueStore       // optional; value endpoints return 503 without it
	Recorder   RecorderStats    // optional
	Audit      audit.Repository // optional; control actions are not audited without it
	Version    string
}

// Server is the HTTP API server for lightlink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	conn      Connection
	monitor   Monitor
	values    ValueStore
	recorder  RecorderStats
	audit     audit.Repository
	version   string
	startTime time.Time

	hub     *Hub
	hubReg  *connection.Registration
	tickets *ticketStore

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, connection manager)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Connection == nil {
		return nil, fmt.Errorf("connection manager is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		conn:      deps.Connection,
		monitor:   deps.Monitor,
		values:    deps.Values,
		recorder:  deps.Recorder,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// It starts the WebSocket hub and registers it as a connection listener so
// status changes and inbound messages reach subscribed WebSocket clients.
// A bind failure (port in use) is returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	s.hubReg = s.conn.AddListener(s.hub)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	cancel := s.cancel
	reg := s.hubReg
	s.hubReg = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	if reg != nil {
		reg.Remove()
	}
	// Cancel background goroutines (hub, ticket cleanup)
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// lightlink - resilient MQTT link for the smart-lighting controller.
//
// This is the main entry point. It loads configuration, opens the optional
// last-value store and InfluxDB sink, starts the connection manager with its
// health monitor and host event watchers, and serves the local control API.
//
// Subcommands:
//
//	lightlink            run the service
//	lightlink token      mint an API access token
//	lightlink version    print build information
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-lightlink/internal/api"
	"github.com/nerrad567/gray-logic-lightlink/internal/audit"
	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
	"github.com/nerrad567/gray-logic-lightlink/internal/hostevents"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lightlink/internal/laststate"
	"github.com/nerrad567/gray-logic-lightlink/internal/telemetry"
	"github.com/nerrad567/gray-logic-lightlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when LIGHTLINK_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// configEnvVar names the environment variable holding the config path.
	configEnvVar = "LIGHTLINK_CONFIG"

	// clientIDPlaceholder is expanded in heartbeat payloads.
	clientIDPlaceholder = "{client_id}"

	// pruneInterval is how often old connection history is deleted.
	pruneInterval = time.Hour
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("lightlink %s (commit %s, built %s)\n", version, commit, date)
			return
		case "token":
			if err := runToken(os.Args[2:], os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(2)
			}
			return
		}
	}

	// Cancel on Ctrl+C and SIGTERM. SIGUSR1/SIGUSR2 belong to hostevents.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// An unreachable broker is not a startup error: the manager keeps retrying
// in the background and run only fails on local problems (config, database,
// InfluxDB, API listener).
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting lightlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	clientID := resolveClientID(cfg.MQTT.Broker.ClientID)

	// Last-value store (optional)
	var (
		db        *database.DB
		repo      *laststate.SQLiteRepository
		recorder  *laststate.Recorder
		auditRepo *audit.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database opened", "path", db.Path())

		if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo = laststate.NewSQLiteRepository(db.DB)
		auditRepo = audit.NewSQLiteRepository(db.DB)
		recorder = laststate.NewRecorder(repo, laststate.RecorderConfig{
			Logger: log.Component("laststate"),
		})
		recorder.Start(ctx)
		defer func() {
			log.Info("flushing last-value recorder")
			recorder.Stop()
		}()
	} else {
		log.Info("last-value store disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Connection manager
	manager, err := connection.NewManager(connection.ManagerOptions{
		Config: connectionConfig(cfg.MQTT, clientID),
		Transport: &mqttTransport{
			base:   mqtt.OptionsFromConfig(cfg.MQTT, clientID),
			logger: log.Component("mqtt"),
		},
		Retry:  retryPolicy(cfg.MQTT.Reconnect),
		Logger: log.Component("connection"),
	})
	if err != nil {
		return fmt.Errorf("creating connection manager: %w", err)
	}
	defer func() {
		log.Info("closing MQTT connection")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing connection manager", "error", closeErr)
		}
	}()

	if recorder != nil {
		manager.AddListener(recorder)
	}
	if influxClient != nil {
		manager.AddListener(telemetry.NewRecorder(influxClient, nil, log.Component("telemetry")))
	}
	for _, sub := range cfg.Subscriptions {
		if subErr := manager.Subscribe(sub.Topic, byte(sub.QoS)); subErr != nil {
			return fmt.Errorf("recording subscription %q: %w", sub.Topic, subErr)
		}
	}

	// Health monitor
	monitor := connection.NewMonitor(manager, connection.MonitorConfig{
		Interval:     cfg.GetHealthInterval(),
		FastInterval: cfg.GetHealthFastInterval(),
		GraceWindow:  cfg.GetGraceWindow(),
		Debounce:     cfg.GetDebounce(),
		Heartbeats:   heartbeats(cfg.Health.Heartbeats, clientID),
		Logger:       log.Component("monitor"),
	})
	monitor.Start(ctx)
	defer func() {
		log.Info("stopping health monitor")
		monitor.Stop()
	}()

	// Background workers share one cancel so an early return still stops them.
	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup
	defer func() {
		stopBackground()
		bg.Wait()
	}()

	watcher := hostevents.New(monitor, hostevents.Config{
		Signals:      cfg.HostEvents.Signals,
		NetworkWatch: cfg.HostEvents.NetworkWatch,
		PollInterval: cfg.GetPollInterval(),
		Logger:       log.Component("hostevents"),
	})
	watcher.Start(bgCtx)
	bg.Add(1)
	go func() {
		defer bg.Done()
		watcher.Wait()
	}()

	if influxClient != nil {
		sampler := telemetry.NewSampler(influxClient, manager, monitor, clientID, cfg.GetHealthInterval(), nil)
		bg.Add(1)
		go func() {
			defer bg.Done()
			sampler.Run(bgCtx)
		}()
	}

	if repo != nil && cfg.Database.EventRetention > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			pruneLoop(bgCtx, clock.New(), repo, cfg.GetEventRetention(), log)
		}()
	}

	// Local control API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Connection: manager,
			Monitor:    monitor,
			Version:    version,
		}
		if repo != nil {
			deps.Values = repo
			deps.Recorder = recorder
			deps.Audit = auditRepo
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", server.Addr())
	} else {
		log.Info("API server disabled")
	}

	if err := manager.Connect(); err != nil {
		return fmt.Errorf("starting connection: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", clientID,
		"subscriptions", len(cfg.Subscriptions),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, background workers, monitor, MQTT, InfluxDB, recorder, database.

	log.Info("lightlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LIGHTLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the local stores respond. Either may be nil when
// disabled. The broker is deliberately not checked: being offline at startup
// is a normal state for the connection manager.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// resolveClientID returns the configured client ID, or a random one so two
// instances never kick each other off the broker.
func resolveClientID(configured string) string {
	if configured != "" {
		return configured
	}
	return "lightlink-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// connectionConfig builds the manager's broker config from the mqtt section.
func connectionConfig(cfg config.MQTTConfig, clientID string) connection.Config {
	return connection.Config{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		ClientID: clientID,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		UseTLS:   cfg.Broker.TLS,
	}
}

// retryPolicy converts the reconnect section. Validation already happened in
// config.Load.
func retryPolicy(cfg config.MQTTReconnectConfig) connection.RetryPolicy {
	kind := connection.RetryExponential
	if cfg.Policy == connection.RetryFixed {
		kind = connection.RetryFixed
	}
	return connection.RetryPolicy{
		Kind:         kind,
		InitialDelay: time.Duration(cfg.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelay) * time.Second,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
	}
}

// heartbeats converts the configured heartbeats, expanding {client_id}.
func heartbeats(cfgs []config.HeartbeatConfig, clientID string) []connection.Heartbeat {
	out := make([]connection.Heartbeat, 0, len(cfgs))
	for _, hb := range cfgs {
		out = append(out, connection.Heartbeat{
			Topic:   hb.Topic,
			Payload: strings.ReplaceAll(hb.Payload, clientIDPlaceholder, clientID),
			QoS:     byte(hb.QoS),
		})
	}
	return out
}

// eventPruner is implemented by *laststate.SQLiteRepository.
type eventPruner interface {
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop deletes connection history older than retention, once at start
// and then every pruneInterval, until ctx is cancelled.
func pruneLoop(ctx context.Context, clk clock.Clock, p eventPruner, retention time.Duration, log *logging.Logger) {
	prune := func() {
		n, err := p.PruneEvents(ctx, retention)
		switch {
		case errors.Is(err, context.Canceled):
		case err != nil:
			log.Warn("pruning connection history", "error", err)
		case n > 0:
			log.Info("pruned connection history", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := clk.Ticker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for lightlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig           `yaml:"site"`
	MQTT          MQTTConfig           `yaml:"mqtt"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Health        HealthConfig         `yaml:"health"`
	HostEvents    HostEventsConfig     `yaml:"hostevents"`
	Database      DatabaseConfig       `yaml:"database"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	API           APIConfig            `yaml:"api"`
	WebSocket     WebSocketConfig      `yaml:"websocket"`
	Security      SecurityConfig       `yaml:"security"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// SiteConfig identifies the lighting installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Timeouts  MQTTTimeoutConfig   `yaml:"timeouts"`
	Status    MQTTStatusConfig    `yaml:"status"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"` // Empty: a random ID is generated at startup

	// InsecureSkipVerify disables broker certificate checks. Only for brokers
	// with self-signed certificates on a trusted LAN.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// CAFile is an optional PEM bundle used to verify the broker certificate.
	CAFile string `yaml:"ca_file"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains the automatic retry policy.
type MQTTReconnectConfig struct {
	// Policy is "fixed" or "exponential". Default: exponential
	Policy       string  `yaml:"policy"`
	InitialDelay int     `yaml:"initial_delay"` // seconds
	MaxDelay     int     `yaml:"max_delay"`     // seconds
	Multiplier   float64 `yaml:"multiplier"`
	Jitter       float64 `yaml:"jitter"`
}

// MQTTTimeoutConfig contains transport timeouts.
type MQTTTimeoutConfig struct {
	Connect           int `yaml:"connect"`            // seconds
	Publish           int `yaml:"publish"`            // seconds
	KeepAlive         int `yaml:"keep_alive"`         // seconds
	DisconnectQuiesce int `yaml:"disconnect_quiesce"` // milliseconds
}

// MQTTStatusConfig controls the online/offline presence messages and the
// Last Will and Testament.
type MQTTStatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

// SubscriptionConfig is a topic subscribed at startup.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// HealthConfig contains health monitor settings.
type HealthConfig struct {
	Interval     int               `yaml:"interval"`      // seconds
	FastInterval int               `yaml:"fast_interval"` // seconds
	GraceWindow  int               `yaml:"grace_window"`  // seconds
	Debounce     int               `yaml:"debounce_ms"`   // milliseconds
	Heartbeats   []HeartbeatConfig `yaml:"heartbeats"`
}

// HeartbeatConfig is a message published on every slow health tick.
// The placeholder {client_id} in Payload is replaced with the MQTT client ID.
type HeartbeatConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
}

// HostEventsConfig controls which host signals feed the health monitor.
type HostEventsConfig struct {
	// Signals maps SIGUSR1 to screen-unlock and SIGUSR2 to network-change.
	Signals bool `yaml:"signals"`

	// NetworkWatch polls interface addresses and reports changes.
	NetworkWatch bool `yaml:"network_watch"`

	// PollInterval is the interface poll period in seconds.
	PollInterval int `yaml:"poll_interval"`
}

// DatabaseConfig contains SQLite settings for the last-value cache.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// EventRetention is how many days of connection history to keep.
	// 0 keeps everything.
	EventRetention int `yaml:"event_retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local HTTP control API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LIGHTLINK_SECTION_KEY
// For example: LIGHTLINK_MQTT_HOST, LIGHTLINK_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults. The subscriptions and
// heartbeats match what the lighting controller publishes and expects.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "home",
			Name: "Smart Lighting",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
				TLS:  true,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Policy:       "exponential",
				InitialDelay: 3,
				MaxDelay:     60,
				Multiplier:   1.5,
			},
			Timeouts: MQTTTimeoutConfig{
				Connect:           10,
				Publish:           5,
				KeepAlive:         60,
				DisconnectQuiesce: 250,
			},
			Status: MQTTStatusConfig{
				Enabled: true,
				Topic:   "client/status",
			},
		},
		Subscriptions: []SubscriptionConfig{
			{Topic: "alarm", QoS: 1},
			{Topic: "sensor/data", QoS: 1},
			{Topic: "time", QoS: 1},
			{Topic: "control", QoS: 1},
		},
		Health: HealthConfig{
			Interval:     30,
			FastInterval: 10,
			GraceWindow:  10,
			Debounce:     2000,
			Heartbeats: []HeartbeatConfig{
				{Topic: "heartbeat", Payload: "{client_id}", QoS: 1},
				{Topic: "request", Payload: `{"action":"getData"}`, QoS: 0},
			},
		},
		HostEvents: HostEventsConfig{
			Signals:      true,
			NetworkWatch: true,
			PollInterval: 5,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Path:           "./data/lightlink.db",
			WALMode:        true,
			BusyTimeout:    5,
			EventRetention: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LIGHTLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("LIGHTLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIGHTLINK_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("LIGHTLINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("LIGHTLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("LIGHTLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("LIGHTLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LIGHTLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	return nil
}

// minJWTSecretLength is the shortest accepted API signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration and reports every problem at once.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if !validQoS(c.MQTT.QoS) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	switch c.MQTT.Reconnect.Policy {
	case "fixed", "exponential":
	default:
		errs = append(errs, `mqtt.reconnect.policy must be "fixed" or "exponential"`)
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be less than initial_delay")
	}
	if c.MQTT.Reconnect.Jitter < 0 || c.MQTT.Reconnect.Jitter >= 1 {
		errs = append(errs, "mqtt.reconnect.jitter must be in [0,1)")
	}
	if c.MQTT.Timeouts.Connect < 1 {
		errs = append(errs, "mqtt.timeouts.connect must be at least 1 second")
	}
	if c.MQTT.Status.Enabled && c.MQTT.Status.Topic == "" {
		errs = append(errs, "mqtt.status.topic is required when status is enabled")
	}

	for i, sub := range c.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		}
		if !validQoS(sub.QoS) {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	// Health
	if c.Health.Interval < 1 || c.Health.FastInterval < 1 {
		errs = append(errs, "health intervals must be at least 1 second")
	}
	if c.Health.GraceWindow < 1 {
		errs = append(errs, "health.grace_window must be at least 1 second")
	}
	for i, hb := range c.Health.Heartbeats {
		if hb.Topic == "" {
			errs = append(errs, fmt.Sprintf("health.heartbeats[%d].topic is required", i))
		}
		if !validQoS(hb.QoS) {
			errs = append(errs, fmt.Sprintf("health.heartbeats[%d].qos must be 0, 1, or 2", i))
		}
	}
	if c.HostEvents.NetworkWatch && c.HostEvents.PollInterval < 1 {
		errs = append(errs, "hostevents.poll_interval must be at least 1 second")
	}

	// Storage
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}
	if c.Database.EventRetention < 0 {
		errs = append(errs, "database.event_retention_days must not be negative")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// The API can publish to the lighting bus, so it never runs unauthenticated.
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set LIGHTLINK_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validQoS(qos int) bool {
	return qos >= 0 && qos <= 2
}

// GetConnectTimeout returns the MQTT handshake timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.Timeouts.Connect) * time.Second
}

// GetPublishTimeout returns the MQTT publish acknowledgement timeout.
func (c *Config) GetPublishTimeout() time.Duration {
	return time.Duration(c.MQTT.Timeouts.Publish) * time.Second
}

// GetKeepAlive returns the MQTT keepalive interval.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.MQTT.Timeouts.KeepAlive) * time.Second
}

// GetRetryInitialDelay returns the first automatic retry delay.
func (c *Config) GetRetryInitialDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}

// GetRetryMaxDelay returns the retry delay cap.
func (c *Config) GetRetryMaxDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}

// GetHealthInterval returns the slow health check period.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetHealthFastInterval returns the fast health check period.
func (c *Config) GetHealthFastInterval() time.Duration {
	return time.Duration(c.Health.FastInterval) * time.Second
}

// GetGraceWindow returns how long the link may stay down before a forced reconnect.
func (c *Config) GetGraceWindow() time.Duration {
	return time.Duration(c.Health.GraceWindow) * time.Second
}

// GetDebounce returns the delay applied after a host event.
func (c *Config) GetDebounce() time.Duration {
	return time.Duration(c.Health.Debounce) * time.Millisecond
}

// GetPollInterval returns the network watcher poll period.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.HostEvents.PollInterval) * time.Second
}

// GetEventRetention returns how long connection history is kept. Zero means forever.
func (c *Config) GetEventRetention() time.Duration {
	return time.Duration(c.Database.EventRetention) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

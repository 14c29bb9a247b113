package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "flat-12"
mqtt:
  broker:
    host: "broker.example.com"
    port: 8883
    tls: true
    client_id: "lamp-panel"
    insecure_skip_verify: true
  auth:
    username: "lights"
  reconnect:
    policy: "fixed"
    initial_delay: 5
    max_delay: 5
subscriptions:
  - topic: "sensor/data"
    qos: 1
database:
  path: "/tmp/lightlink.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "flat-12" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "flat-12")
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if !cfg.MQTT.Broker.InsecureSkipVerify {
		t.Error("MQTT.Broker.InsecureSkipVerify = false, want true")
	}
	if cfg.MQTT.Reconnect.Policy != "fixed" {
		t.Errorf("MQTT.Reconnect.Policy = %q, want fixed", cfg.MQTT.Reconnect.Policy)
	}

	// The file list replaces the default subscriptions.
	if len(cfg.Subscriptions) != 1 || cfg.Subscriptions[0].Topic != "sensor/data" {
		t.Errorf("Subscriptions = %+v, want only sensor/data", cfg.Subscriptions)
	}

	// Untouched sections keep their defaults.
	if cfg.Health.GraceWindow != 10 {
		t.Errorf("Health.GraceWindow = %d, want default 10", cfg.Health.GraceWindow)
	}
	if cfg.MQTT.Status.Topic != "client/status" {
		t.Errorf("MQTT.Status.Topic = %q, want default", cfg.MQTT.Status.Topic)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker:
    host: ""
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for empty broker host, got nil")
	}
	if !strings.Contains(err.Error(), "mqtt.broker.host") {
		t.Errorf("error = %v, want mention of mqtt.broker.host", err)
	}
}

func TestLoad_BadPortEnv(t *testing.T) {
	path := writeConfig(t, "site:\n  id: x\n")
	t.Setenv("LIGHTLINK_MQTT_PORT", "not-a-port")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for non-numeric LIGHTLINK_MQTT_PORT")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: "mqtt.broker.port",
		},
		{
			name:    "unknown retry policy",
			mutate:  func(c *Config) { c.MQTT.Reconnect.Policy = "linear" },
			wantErr: "mqtt.reconnect.policy",
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.MQTT.Reconnect.InitialDelay = 0 },
			wantErr: "initial_delay",
		},
		{
			name:    "max below initial",
			mutate:  func(c *Config) { c.MQTT.Reconnect.MaxDelay = 1 },
			wantErr: "max_delay",
		},
		{
			name:    "subscription without topic",
			mutate:  func(c *Config) { c.Subscriptions = append(c.Subscriptions, SubscriptionConfig{QoS: 1}) },
			wantErr: "subscriptions[4].topic",
		},
		{
			name:    "heartbeat with bad qos",
			mutate:  func(c *Config) { c.Health.Heartbeats[0].QoS = 5 },
			wantErr: "health.heartbeats[0].qos",
		},
		{
			name:    "status topic missing",
			mutate:  func(c *Config) { c.MQTT.Status.Topic = "" },
			wantErr: "mqtt.status.topic",
		},
		{
			name:    "database enabled without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "negative event retention",
			mutate:  func(c *Config) { c.Database.EventRetention = -1 },
			wantErr: "event_retention_days",
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "lights" },
			wantErr: "influxdb.url",
		},
		{
			name:    "api without secret",
			mutate:  func(c *Config) { c.API.Enabled = true },
			wantErr: "security.jwt.secret is required",
		},
		{
			name: "api with short secret",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Security.JWT.Secret = "short"
			},
			wantErr: "at least 32 characters",
		},
		{
			name: "api with valid secret",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Security.JWT.Secret = validJWTSecret
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker.Host = ""
	cfg.MQTT.QoS = 9

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"mqtt.broker.host", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"connect timeout", cfg.GetConnectTimeout(), 10 * time.Second},
		{"publish timeout", cfg.GetPublishTimeout(), 5 * time.Second},
		{"keepalive", cfg.GetKeepAlive(), 60 * time.Second},
		{"retry initial", cfg.GetRetryInitialDelay(), 3 * time.Second},
		{"retry max", cfg.GetRetryMaxDelay(), 60 * time.Second},
		{"health interval", cfg.GetHealthInterval(), 30 * time.Second},
		{"health fast interval", cfg.GetHealthFastInterval(), 10 * time.Second},
		{"grace window", cfg.GetGraceWindow(), 10 * time.Second},
		{"debounce", cfg.GetDebounce(), 2 * time.Second},
		{"poll interval", cfg.GetPollInterval(), 5 * time.Second},
		{"event retention", cfg.GetEventRetention(), 30 * 24 * time.Hour},
		{"api read", cfg.GetReadTimeout(), 30 * time.Second},
		{"api write", cfg.GetWriteTimeout(), 30 * time.Second},
		{"api idle", cfg.GetIdleTimeout(), 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

// The heartbeat must wait for a broker acknowledgement to detect a dead link.
func TestDefault_HeartbeatAcknowledged(t *testing.T) {
	hbs := Default().Health.Heartbeats
	if len(hbs) == 0 || hbs[0].Topic != "heartbeat" {
		t.Fatalf("default heartbeats = %+v, want heartbeat first", hbs)
	}
	if hbs[0].QoS < 1 {
		t.Errorf("heartbeat QoS = %d, want at least 1", hbs[0].QoS)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("LIGHTLINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LIGHTLINK_MQTT_PORT", "1884")
	t.Setenv("LIGHTLINK_MQTT_CLIENT_ID", "hall-panel")
	t.Setenv("LIGHTLINK_MQTT_USERNAME", "testuser")
	t.Setenv("LIGHTLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("LIGHTLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LIGHTLINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LIGHTLINK_API_HOST", "192.168.1.1")
	t.Setenv("LIGHTLINK_JWT_SECRET", "jwt-secret")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 1884},
		{"MQTT.Broker.ClientID", cfg.MQTT.Broker.ClientID, "hall-panel"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Port != 8883 || !cfg.MQTT.Broker.TLS {
		t.Errorf("default broker = %d tls=%v, want 8883 over TLS", cfg.MQTT.Broker.Port, cfg.MQTT.Broker.TLS)
	}
	if cfg.MQTT.Reconnect.Multiplier != 1.5 {
		t.Errorf("default multiplier = %v, want 1.5", cfg.MQTT.Reconnect.Multiplier)
	}

	wantTopics := []string{"alarm", "sensor/data", "time", "control"}
	if len(cfg.Subscriptions) != len(wantTopics) {
		t.Fatalf("default subscriptions = %+v", cfg.Subscriptions)
	}
	for i, topic := range wantTopics {
		if cfg.Subscriptions[i].Topic != topic || cfg.Subscriptions[i].QoS != 1 {
			t.Errorf("subscription[%d] = %+v, want %s at QoS 1", i, cfg.Subscriptions[i], topic)
		}
	}

	if cfg.API.Enabled {
		t.Error("API should be disabled by default")
	}
}

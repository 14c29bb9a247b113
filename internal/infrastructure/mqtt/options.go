package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// protocolVersion pins MQTT 3.1.1 so a refused CONNACK is not retried as 3.1.
	protocolVersion = 4
)

// Options describes one broker session.
type Options struct {
	Host               string
	Port               int
	TLS                bool
	InsecureSkipVerify bool
	CAFile             string

	ClientID string
	Username string
	Password string

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	KeepAlive         time.Duration
	DisconnectQuiesce uint // milliseconds

	// StatusTopic receives retained online/offline status messages and the
	// Last Will. Empty disables both.
	StatusTopic string

	// Logger is optional.
	Logger Logger
}

// Logger is the subset of logging.Logger this package uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// OptionsFromConfig builds session options from the mqtt section of
// config.yaml. clientID overrides the configured one when non-empty.
func OptionsFromConfig(cfg config.MQTTConfig, clientID string) Options {
	if clientID == "" {
		clientID = cfg.Broker.ClientID
	}
	opts := Options{
		Host:               cfg.Broker.Host,
		Port:               cfg.Broker.Port,
		TLS:                cfg.Broker.TLS,
		InsecureSkipVerify: cfg.Broker.InsecureSkipVerify,
		CAFile:             cfg.Broker.CAFile,
		ClientID:           clientID,
		Username:           cfg.Auth.Username,
		Password:           cfg.Auth.Password,
		ConnectTimeout:     time.Duration(cfg.Timeouts.Connect) * time.Second,
		PublishTimeout:     time.Duration(cfg.Timeouts.Publish) * time.Second,
		KeepAlive:          time.Duration(cfg.Timeouts.KeepAlive) * time.Second,
	}
	if cfg.Timeouts.DisconnectQuiesce > 0 {
		opts.DisconnectQuiesce = uint(cfg.Timeouts.DisconnectQuiesce)
	}
	if cfg.Status.Enabled {
		opts.StatusTopic = cfg.Status.Topic
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.DisconnectQuiesce == 0 {
		o.DisconnectQuiesce = defaultDisconnectQuiesce
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// BrokerURL returns the tcp:// or ssl:// URL for the broker.
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// buildClientOptions creates paho options for a single connection attempt.
//
// Reconnection is owned by the caller, so paho's own retry loops are off.
// Messages on every subscription arrive through the default publish handler.
func buildClientOptions(o Options, onMessage pahomqtt.MessageHandler) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)
	opts.SetProtocolVersion(protocolVersion)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetWriteTimeout(o.PublishTimeout)
	opts.SetDefaultPublishHandler(onMessage)

	if o.TLS {
		tlsConfig, err := buildTLSConfig(o)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if o.StatusTopic != "" {
		configureLWT(opts, o.StatusTopic, o.ClientID)
	}

	return opts, nil
}

func buildTLSConfig(o Options) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed home brokers
	}
	if o.CAFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(o.CAFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, o.CAFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will if this client vanishes without a
// DISCONNECT, so dashboards see the app go offline.
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	opts.SetWill(topic, string(StatusPayload(clientID, StatusOffline, "unexpected_disconnect")), 1, true)
}

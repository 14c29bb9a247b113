package main

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-lightlink/internal/connection"
	"github.com/nerrad567/gray-logic-lightlink/internal/infrastructure/mqtt"
)

// mqttTransport adapts the paho session wrapper to connection.Transport.
//
// base carries everything config.yaml sets that the manager does not track
// (timeouts, TLS material, status topic). The per-attempt connection.Config
// overrides broker address and credentials so Reconfigure takes effect on
// the next dial.
type mqttTransport struct {
	base   mqtt.Options
	logger mqtt.Logger
}

// Connect implements connection.Transport.
func (t *mqttTransport) Connect(cfg connection.Config, events connection.SessionEvents) (connection.Session, error) {
	opts := t.base
	opts.Host = cfg.Host
	opts.Port = cfg.Port
	opts.TLS = cfg.UseTLS
	opts.ClientID = cfg.ClientID
	opts.Username = cfg.Username
	opts.Password = cfg.Password
	opts.Logger = t.logger

	sess, err := mqtt.Dial(opts, mqtt.Callbacks{
		OnConnected:      events.OnConnected,
		OnConnectFailed:  translated(events.OnConnectFailed),
		OnConnectionLost: translated(events.OnConnectionLost),
		OnMessage:        events.OnMessage,
	})
	if err != nil {
		// A nil *mqtt.Session must not leak out as a non-nil interface.
		return nil, translateError(err)
	}
	return sess, nil
}

func translated(fn func(error)) func(error) {
	if fn == nil {
		return nil
	}
	return func(err error) {
		fn(translateError(err))
	}
}

// translateError maps transport errors onto the connection package's
// failure kinds. The original error stays in the chain.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mqtt.ErrAuthRejected):
		return fmt.Errorf("%w: %w", connection.ErrAuthFailed, err)
	case errors.Is(err, mqtt.ErrBrokerUnreachable):
		return fmt.Errorf("%w: %w", connection.ErrNetworkUnavailable, err)
	case errors.Is(err, mqtt.ErrConnectionFailed), errors.Is(err, mqtt.ErrTLSConfig), errors.Is(err, mqtt.ErrTimeout):
		return fmt.Errorf("%w: %w", connection.ErrHandshakeFailed, err)
	default:
		return err
	}
}

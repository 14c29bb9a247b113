package connection

import (
	"fmt"
	"time"
)

// State is the connection lifecycle state of a Manager.
type State int

const (
	// StateDisconnected means no session exists and no retry is scheduled.
	StateDisconnected State = iota

	// StateConnecting means a transport attempt is in flight.
	StateConnecting

	// StateConnected means the current session completed its handshake.
	StateConnected

	// StateReconnecting means the last attempt failed or the session was lost
	// and a retry is scheduled.
	StateReconnecting
)

// Display strings shown to users. Error detail never leaks into these.
const (
	StatusTextConnecting   = "Connecting…"
	StatusTextConnected    = "Connected"
	StatusTextDisconnected = "Disconnected"
)

// String returns the lower-case state name used in logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusText maps the state onto one of the three user-facing strings.
func (s State) StatusText() string {
	switch s {
	case StateConnected:
		return StatusTextConnected
	case StateConnecting, StateReconnecting:
		return StatusTextConnecting
	default:
		return StatusTextDisconnected
	}
}

// Config identifies the broker and credentials for a session.
//
// A Config is immutable for the lifetime of an attempt. Use Manager.Reconfigure
// to switch brokers; it tears the session down instead of mutating it.
type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	UseTLS   bool
}

// Address returns host:port.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Subscription is a desired topic filter and its maximum QoS.
type Subscription struct {
	Topic string
	QoS   byte
}

// InboundMessage is a message received from the broker. It only lives for the
// duration of one dispatch.
type InboundMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

package connection

// Listener receives connection and message events from a Manager.
//
// Callbacks run synchronously on the transport's delivery path. Implementations
// must hand heavy work to their own goroutine and return promptly.
type Listener interface {
	// OnConnected is called once per transition into StateConnected.
	OnConnected()

	// OnConnectionFailed is called once per failed attempt or lost session.
	// The reason is meant for display and logs only.
	OnConnectionFailed(reason string)

	// OnMessageReceived is called for every inbound message, in receipt order.
	OnMessageReceived(topic, payload string)
}

// ListenerFuncs adapts plain functions to the Listener interface.
// Nil fields are skipped.
type ListenerFuncs struct {
	Connected        func()
	ConnectionFailed func(reason string)
	MessageReceived  func(topic, payload string)
}

// OnConnected implements Listener.
func (f ListenerFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

// OnConnectionFailed implements Listener.
func (f ListenerFuncs) OnConnectionFailed(reason string) {
	if f.ConnectionFailed != nil {
		f.ConnectionFailed(reason)
	}
}

// OnMessageReceived implements Listener.
func (f ListenerFuncs) OnMessageReceived(topic, payload string) {
	if f.MessageReceived != nil {
		f.MessageReceived(topic, payload)
	}
}

// Logger defines the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

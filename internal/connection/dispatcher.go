package connection

import (
	"context"
	"fmt"
	"sync"
)

// Dispatcher fans connection events and inbound messages out to every
// registered Listener.
//
// The listener set is copy-on-write: each dispatch works on the snapshot that
// existed when the event arrived, so a listener added mid-dispatch never sees
// an earlier message and a removed listener is never called again after
// Remove returns and the in-flight dispatch finishes.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []*Registration
	nextID    uint64
	logger    Logger
}

// Registration is the handle returned by AddListener.
type Registration struct {
	id       uint64
	listener Listener
	d        *Dispatcher
	once     sync.Once

	mu   sync.Mutex
	stop func() bool
}

// NewDispatcher returns a dispatcher with no listeners.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{logger: noopLogger{}}
}

// SetLogger sets the logger used for listener failures.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.mu.Lock()
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
	d.mu.Unlock()
}

// AddListener registers l. History is not replayed: l only sees events that
// arrive after this call returns.
func (d *Dispatcher) AddListener(l Listener) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	reg := &Registration{id: d.nextID, listener: l, d: d}

	next := make([]*Registration, 0, len(d.listeners)+1)
	next = append(next, d.listeners...)
	d.listeners = append(next, reg)
	return reg
}

// AddListenerContext registers l until ctx is done or the registration is
// removed, whichever happens first. This ties the listener to its owner's
// lifetime without the dispatcher holding it any longer.
func (d *Dispatcher) AddListenerContext(ctx context.Context, l Listener) *Registration {
	reg := d.AddListener(l)
	// A done ctx runs Remove on another goroutine straight away; it waits
	// on reg.mu until stop is recorded.
	reg.mu.Lock()
	reg.stop = context.AfterFunc(ctx, reg.Remove)
	reg.mu.Unlock()
	return reg
}

// Remove unregisters the listener. Safe to call more than once.
func (r *Registration) Remove() {
	r.once.Do(func() {
		r.mu.Lock()
		stop := r.stop
		r.mu.Unlock()
		if stop != nil {
			stop()
		}
		r.d.remove(r.id)
	})
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make([]*Registration, 0, len(d.listeners))
	for _, reg := range d.listeners {
		if reg.id != id {
			next = append(next, reg)
		}
	}
	d.listeners = next
}

// Clear removes every listener.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.listeners = nil
	d.mu.Unlock()
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

func (d *Dispatcher) snapshot() ([]*Registration, Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listeners, d.logger
}

// Dispatch delivers msg to every listener registered at call time.
func (d *Dispatcher) Dispatch(msg InboundMessage) {
	listeners, logger := d.snapshot()
	payload := string(msg.Payload)
	for _, reg := range listeners {
		d.invoke(logger, reg, "message", msg.Topic, func(l Listener) {
			l.OnMessageReceived(msg.Topic, payload)
		})
	}
}

// NotifyConnected calls OnConnected on every listener.
func (d *Dispatcher) NotifyConnected() {
	listeners, logger := d.snapshot()
	for _, reg := range listeners {
		d.invoke(logger, reg, "connected", "", func(l Listener) {
			l.OnConnected()
		})
	}
}

// NotifyConnectionFailed calls OnConnectionFailed on every listener.
func (d *Dispatcher) NotifyConnectionFailed(reason string) {
	listeners, logger := d.snapshot()
	for _, reg := range listeners {
		d.invoke(logger, reg, "connection_failed", "", func(l Listener) {
			l.OnConnectionFailed(reason)
		})
	}
}

// invoke runs one callback with panic isolation.
func (d *Dispatcher) invoke(logger Logger, reg *Registration, event, topic string, call func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panic recovered",
				"error", fmt.Errorf("%w: %v", ErrListenerPanic, r),
				"listener", reg.id,
				"event", event,
				"topic", topic,
			)
		}
	}()
	call(reg.listener)
}

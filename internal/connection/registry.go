package connection

import (
	"sort"
	"sync"
)

// Registry records the desired subscriptions so they can be re-asserted after
// every reconnect. Keys are topic filters; the last QoS set for a topic wins.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]byte
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]byte)}
}

// Put adds or updates a subscription. It reports whether the entry changed.
func (r *Registry) Put(topic string, qos byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.subs[topic]
	r.subs[topic] = qos
	return !ok || prev != qos
}

// Remove deletes a subscription. It reports whether the topic was present.
func (r *Registry) Remove(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[topic]; !ok {
		return false
	}
	delete(r.subs, topic)
	return true
}

// QoS returns the recorded QoS for topic.
func (r *Registry) QoS(topic string) (byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	qos, ok := r.subs[topic]
	return qos, ok
}

// Len returns the number of recorded subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Snapshot returns a copy of every subscription, sorted by topic so logs and
// tests are stable. Replay order on the wire carries no meaning.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, len(r.subs))
	for topic, qos := range r.subs {
		out = append(out, Subscription{Topic: topic, QoS: qos})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Clear drops every subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.subs = make(map[string]byte)
	r.mu.Unlock()
}

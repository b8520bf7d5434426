package broadcast

import "sync"

// Registry is the process-wide mapping from client id to its subscribed
// channels, shared by reference across all connections. Each connection
// seeds a local cache from Get at session start and keeps it in lock-step
// with Add/Remove so the hot delivery-filter path never takes this lock.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[string]Options
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[string]Options)}
}

// Add upserts the subscription for (clientID, channel).
func (r *Registry) Add(clientID, channel string, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.subs[clientID]
	if !ok {
		channels = make(map[string]Options)
		r.subs[clientID] = channels
	}
	channels[channel] = opts
}

// Remove deletes the subscription for (clientID, channel), a no-op if
// absent.
func (r *Registry) Remove(clientID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channels, ok := r.subs[clientID]; ok {
		delete(channels, channel)
	}
}

// Get returns a consistent point-in-time copy of clientID's subscriptions.
func (r *Registry) Get(clientID string) map[string]Options {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := r.subs[clientID]
	snapshot := make(map[string]Options, len(channels))
	for k, v := range channels {
		snapshot[k] = v
	}
	return snapshot
}

// Clear removes every subscription for clientID. Not wired to any inbound
// command (spec.md's Command union is closed); exposed for an
// administrative caller such as an explicit session-disconnect hook, per
// the open question in spec.md §9.
func (r *Registry) Clear(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, clientID)
}

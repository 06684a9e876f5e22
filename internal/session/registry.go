package session

import (
	"context"
	"sync"
	"time"

	"inspectdesk.io/internal/ids"
)

const evictLogoutTimeout = 10 * time.Second

// Registry maps browser session identifiers to their providers. Each browser
// session owns exactly one Provider.
type Registry struct {
	newProvider func() *Provider
	idle        time.Duration
	refreshLead time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	provider *Provider
	cancel   context.CancelFunc
	lastSeen time.Time
}

func (e *registryEntry) close() {
	e.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), evictLogoutTimeout)
	defer cancel()
	_ = e.provider.Logout(ctx)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithAutoRefresh starts Provider.AutoRefresh with lead for every session.
func WithAutoRefresh(lead time.Duration) RegistryOption {
	return func(r *Registry) { r.refreshLead = lead }
}

// WithRegistryClock overrides the time source used for idle tracking.
func WithRegistryClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry builds a registry whose providers come from factory and are
// evicted after idle without use.
func NewRegistry(factory func() *Provider, idle time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		newProvider: factory,
		idle:        idle,
		now:         time.Now,
		entries:     make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transient returns a provider that is never registered and runs no
// background work. Anonymous requests are served from one until a login
// succeeds and the provider is adopted.
func (r *Registry) Transient() *Provider {
	return r.newProvider()
}

// Adopt registers p under a freshly generated session id. Background refresh,
// when enabled, stops once the session is removed or evicted.
func (r *Registry) Adopt(p *Provider) string {
	id := ids.Prefixed("sess")
	ctx, cancel := context.WithCancel(context.Background())
	if r.refreshLead > 0 {
		go p.AutoRefresh(ctx, r.refreshLead)
	}

	r.mu.Lock()
	r.entries[id] = &registryEntry{provider: p, cancel: cancel, lastSeen: r.now()}
	r.mu.Unlock()
	return id
}

// Get returns the provider for id and marks it as used.
func (r *Registry) Get(id string) (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.provider, true
}

// Remove drops id, stops its background work and signs the provider out so
// its tokens are revoked with the backend.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		go e.close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts sessions idle for longer than the configured timeout and
// returns how many were removed.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	var stale []*registryEntry

	r.mu.Lock()
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		go e.close()
	}
	return len(stale)
}

// Run sweeps every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

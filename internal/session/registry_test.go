package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitRevoked(t *testing.T, b *fakeBackend, access string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, tok := range b.revoked() {
			if tok == access {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("tokens %q were never revoked, got %v", access, b.revoked())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRegistryAdoptGetRemove(t *testing.T) {
	b := newFakeBackend()
	reg := NewRegistry(func() *Provider { return NewProvider(b) }, time.Hour)

	p := reg.Transient()
	if reg.Len() != 0 {
		t.Fatalf("transient providers must not be registered, got %d", reg.Len())
	}
	login(t, p)
	access := p.State().Tokens.AccessToken

	id := reg.Adopt(p)
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("unexpected session id %q", id)
	}
	got, ok := reg.Get(id)
	if !ok || got != p {
		t.Fatalf("Get returned a different provider")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one session, got %d", reg.Len())
	}

	reg.Remove(id)
	if _, ok := reg.Get(id); ok {
		t.Fatalf("session should be gone")
	}
	waitRevoked(t, b, access)
	reg.Remove(id)
}

func TestRegistryTransientProvidersAreIndependent(t *testing.T) {
	reg := NewRegistry(func() *Provider { return NewProvider(newFakeBackend()) }, time.Hour)
	a, b := reg.Transient(), reg.Transient()
	if a == b {
		t.Fatalf("each call must return a new provider")
	}
	if !a.State().IsLoading() {
		t.Fatalf("expected a loading provider, got %s", a.State().Status)
	}
}

func TestRegistrySweepEvictsIdleSessions(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := newFakeBackend()
	reg := NewRegistry(func() *Provider { return NewProvider(b) }, 30*time.Minute,
		WithRegistryClock(clock.Now))

	idleProvider := NewProvider(b)
	login(t, idleProvider)
	idleAccess := idleProvider.State().Tokens.AccessToken
	idle := reg.Adopt(idleProvider)
	active := reg.Adopt(NewProvider(b))

	clock.Advance(20 * time.Minute)
	if _, ok := reg.Get(active); !ok {
		t.Fatalf("active session missing")
	}
	clock.Advance(15 * time.Minute)

	if n := reg.Sweep(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, ok := reg.Get(idle); ok {
		t.Fatalf("idle session should be evicted")
	}
	if _, ok := reg.Get(active); !ok {
		t.Fatalf("recently used session should survive")
	}
	waitRevoked(t, b, idleAccess)
	if st := idleProvider.State(); st.IsAuthenticated() {
		t.Fatalf("evicted provider must be signed out, got %s", st.Status)
	}
}

func TestRegistryZeroIdleNeverSweeps(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	reg := NewRegistry(func() *Provider { return NewProvider(newFakeBackend()) }, 0,
		WithRegistryClock(clock.Now))
	reg.Adopt(reg.Transient())
	clock.Advance(24 * time.Hour)
	if n := reg.Sweep(); n != 0 || reg.Len() != 1 {
		t.Fatalf("expected no eviction, got %d", n)
	}
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := NewRegistry(func() *Provider { return NewProvider(newFakeBackend()) }, time.Nanosecond)
	reg.Adopt(reg.Transient())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for reg.Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("Run never swept")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

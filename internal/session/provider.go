package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/obs"
)

var (
	// ErrSuperseded is returned when a backend result arrived after another
	// transition (typically a logout) and was discarded.
	ErrSuperseded = errors.New("session: result superseded by a newer transition")
	// ErrNotAuthenticated is returned by Refresh when there is nothing to refresh.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// Provider is the single writable source of truth for one session's identity.
// Reads are lock-free snapshots; transitions are serialized and stamped with a
// generation so that late backend results can be recognized and dropped.
type Provider struct {
	backend Backend
	now     func() time.Time
	log     zerolog.Logger

	mu  sync.Mutex
	gen uint64

	// refreshMu keeps at most one refresh in flight so a single refresh
	// token is never rotated twice.
	refreshMu sync.Mutex

	state atomic.Pointer[State]

	subsMu sync.RWMutex
	subs   map[int]chan State
	next   int
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(p *Provider) {
		if fn != nil {
			p.now = fn
		}
	}
}

// WithLogger sets the logger used for transition diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// NewProvider returns a provider in the Loading state.
func NewProvider(backend Backend, opts ...Option) *Provider {
	if backend == nil {
		panic("session: nil backend")
	}
	p := &Provider{
		backend: backend,
		now:     time.Now,
		log:     obs.Component("session"),
		subs:    make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(p)
	}
	initial := Loading()
	p.state.Store(&initial)
	return p
}

// State returns the current snapshot. It never blocks on transitions.
func (p *Provider) State() State {
	return *p.state.Load()
}

// HasRole reports whether the current user's role is one of roles.
func (p *Provider) HasRole(roles ...auth.Role) bool {
	return p.State().HasRole(roles...)
}

// HasPermission reports whether the current user holds permission.
func (p *Provider) HasPermission(permission string) bool {
	return p.State().HasPermission(permission)
}

// Login exchanges credentials. Invalid credentials come back as an
// *auth.Error of KindInvalidCredentials and leave the provider signed out
// with a display message; an existing authenticated session is left intact.
// A successful login over an existing session revokes the replaced tokens.
func (p *Provider) Login(ctx context.Context, creds auth.Credentials) error {
	gen := p.generation()
	tokens, user, err := p.backend.Exchange(ctx, creds)
	if err != nil {
		ae := Classify(err)
		p.commitIf(gen, "login", func(cur State) (State, bool) {
			if cur.IsAuthenticated() {
				return cur, false
			}
			return Unauthenticated(ae.Message()), true
		})
		return ae
	}
	var prev State
	if !p.commitIf(gen, "login", func(cur State) (State, bool) {
		prev = cur
		return Authenticated(user, tokens), true
	}) {
		p.revoke(ctx, tokens)
		return ErrSuperseded
	}
	// A second login replaces the pair; the old one must not stay usable.
	if prev.IsAuthenticated() && prev.Tokens.RefreshToken != tokens.RefreshToken {
		p.revoke(ctx, prev.Tokens)
	}
	return nil
}

// Restore resumes a session from stored tokens. An empty pair settles the
// provider as signed out without a message.
func (p *Provider) Restore(ctx context.Context, stored auth.TokenPair) error {
	gen := p.generation()
	if stored.IsZero() {
		p.commitIf(gen, "restore", func(State) (State, bool) {
			return Unauthenticated(""), true
		})
		return nil
	}
	tokens, user, err := p.backend.Restore(ctx, stored)
	if err != nil {
		ae := Classify(err)
		if !p.commitIf(gen, "restore", func(State) (State, bool) {
			return Unauthenticated(ae.Message()), true
		}) {
			return ErrSuperseded
		}
		return ae
	}
	if !p.commitIf(gen, "restore", func(State) (State, bool) {
		return Authenticated(user, tokens), true
	}) {
		p.revoke(ctx, tokens)
		return ErrSuperseded
	}
	return nil
}

// Refresh rotates the current token pair. The result is committed only if no
// other transition happened meanwhile and the session still holds the tokens
// that were refreshed.
func (p *Provider) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	gen := p.gen
	cur := *p.state.Load()
	p.mu.Unlock()
	if !cur.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	tokens, user, err := p.backend.Refresh(ctx, cur.Tokens)
	sameTokens := func(now State) bool {
		return now.IsAuthenticated() && now.Tokens.AccessToken == cur.Tokens.AccessToken
	}
	if err != nil {
		ae := Classify(err)
		if !p.commitIf(gen, "refresh", func(now State) (State, bool) {
			return Unauthenticated(ae.Message()), sameTokens(now)
		}) {
			return ErrSuperseded
		}
		return ae
	}
	if !p.commitIf(gen, "refresh", func(now State) (State, bool) {
		return Authenticated(user, tokens), sameTokens(now)
	}) {
		p.revoke(ctx, tokens)
		return ErrSuperseded
	}
	return nil
}

// Logout signs out immediately, then tells the backend. Any in-flight
// restore or refresh is invalidated by the generation bump.
func (p *Provider) Logout(ctx context.Context) error {
	prev := p.commit(Unauthenticated(""))
	if !prev.IsAuthenticated() {
		return nil
	}
	if err := p.backend.Logout(ctx, prev.Tokens); err != nil {
		p.log.Warn().Err(err).Str("user_id", prev.User.ID).Msg("backend logout failed")
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// Invalidate forces the provider to signed out, recording message for display.
func (p *Provider) Invalidate(message string) {
	p.commit(Unauthenticated(message))
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. Slow subscribers only see the latest snapshot. The channel is
// closed when ctx ends.
func (p *Provider) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	p.mu.Lock()
	p.subsMu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	ch <- *p.state.Load()
	p.subsMu.Unlock()
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.subsMu.Lock()
		delete(p.subs, id)
		close(ch)
		p.subsMu.Unlock()
	}()
	return ch
}

// AutoRefresh keeps the session fresh by refreshing lead before the access
// token expires. It returns when ctx ends.
func (p *Provider) AutoRefresh(ctx context.Context, lead time.Duration) {
	changes := p.Subscribe(ctx)
	for {
		st := p.State()
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if st.IsAuthenticated() && !st.Tokens.ExpiresAt.IsZero() {
			wait := st.Tokens.ExpiresAt.Sub(p.now()) - lead
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case _, ok := <-changes:
			stopTimer(timer)
			if !ok {
				return
			}
		case <-fire:
			if err := p.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
				p.log.Info().Err(err).Str("user_id", st.User.ID).Msg("auto refresh failed")
			}
		}
	}
}

// revoke invalidates tokens minted for a result nobody will use.
func (p *Provider) revoke(ctx context.Context, tokens auth.TokenPair) {
	if tokens.IsZero() {
		return
	}
	if err := p.backend.Logout(ctx, tokens); err != nil {
		p.log.Warn().Err(err).Msg("revoke orphaned tokens")
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (p *Provider) generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// commit unconditionally installs next and returns the previous snapshot.
func (p *Provider) commit(next State) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := *p.state.Load()
	p.install(next)
	return prev
}

// commitIf installs the state produced by fn when the generation still equals
// gen and fn accepts. It reports whether anything was committed; stale
// results are counted and dropped.
func (p *Provider) commitIf(gen uint64, op string, fn func(cur State) (State, bool)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		obs.ObserveStaleResult(op)
		p.log.Info().Str("op", op).Uint64("started_gen", gen).Uint64("current_gen", p.gen).Msg("discarding stale session result")
		return false
	}
	next, ok := fn(*p.state.Load())
	if !ok {
		return false
	}
	p.install(next)
	return true
}

// install must be called with p.mu held.
func (p *Provider) install(next State) {
	p.gen++
	next.Generation = p.gen
	p.state.Store(&next)
	obs.ObserveSessionTransition(next.Status.String())
	p.log.Debug().Str("to", next.Status.String()).Uint64("gen", next.Generation).Msg("session transition")
	p.publish(next)
}

func (p *Provider) publish(st State) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- st:
		default:
			// Replace the undelivered snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

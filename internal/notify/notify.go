// Package notify carries transient user-facing notices (toasts) and fans them
// out to live subscribers.
package notify

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"inspectdesk.io/internal/ids"
	"inspectdesk.io/internal/obs"
)

// Category selects how a notice is presented.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategoryLoading Category = "loading"
)

// DefaultDuration is how long a notice of category stays visible. Loading
// notices are sticky until updated or dismissed.
func DefaultDuration(c Category) time.Duration {
	switch c {
	case CategorySuccess:
		return 3 * time.Second
	case CategoryError:
		return 5 * time.Second
	case CategoryInfo, CategoryWarning:
		return 4 * time.Second
	default:
		return 0
	}
}

var (
	ErrNotFound     = errors.New("notify: notice not found")
	ErrEmptyMessage = errors.New("notify: message is required")
)

// Notice is one announcement. A zero ExpiresAt means it stays until
// dismissed. Audience restricts delivery to one browser session; empty means
// everyone.
type Notice struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Audience  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (n Notice) expired(now time.Time) bool {
	return !n.ExpiresAt.IsZero() && !now.Before(n.ExpiresAt)
}

// EventType tags a change published to subscribers.
type EventType string

const (
	EventShown     EventType = "shown"
	EventUpdated   EventType = "updated"
	EventDismissed EventType = "dismissed"
)

// Event is delivered to subscribers on every change.
type Event struct {
	Type   EventType `json:"type"`
	Notice Notice    `json:"notice"`
}

// Option adjusts a single notice.
type Option func(*Notice, *time.Duration)

// WithDuration overrides the category default. Zero makes the notice sticky.
func WithDuration(d time.Duration) Option {
	return func(_ *Notice, dur *time.Duration) {
		if d >= 0 {
			*dur = d
		}
	}
}

// For addresses the notice to a single browser session.
func For(sessionID string) Option {
	return func(n *Notice, _ *time.Duration) { n.Audience = sessionID }
}

// Center stores active notices and fans out changes. Slow subscribers miss
// events rather than blocking publishers.
type Center struct {
	now func() time.Time

	mu      sync.Mutex
	notices map[string]Notice

	subsMu sync.RWMutex
	subs   map[int]chan Event
	next   int
}

// CenterOption configures a Center.
type CenterOption func(*Center)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) CenterOption {
	return func(c *Center) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCenter returns an empty center.
func NewCenter(opts ...CenterOption) *Center {
	c := &Center{
		now:     time.Now,
		notices: make(map[string]Notice),
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Center) Success(msg string, opts ...Option) (Notice, error) {
	return c.Show(CategorySuccess, msg, opts...)
}

func (c *Center) Error(msg string, opts ...Option) (Notice, error) {
	return c.Show(CategoryError, msg, opts...)
}

func (c *Center) Info(msg string, opts ...Option) (Notice, error) {
	return c.Show(CategoryInfo, msg, opts...)
}

func (c *Center) Warning(msg string, opts ...Option) (Notice, error) {
	return c.Show(CategoryWarning, msg, opts...)
}

func (c *Center) Loading(msg string, opts ...Option) (Notice, error) {
	return c.Show(CategoryLoading, msg, opts...)
}

// Show publishes a new notice of category.
func (c *Center) Show(category Category, msg string, opts ...Option) (Notice, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return Notice{}, ErrEmptyMessage
	}
	now := c.now()
	n := Notice{ID: ids.Prefixed("ntc"), Category: category, Message: msg, CreatedAt: now}
	dur := DefaultDuration(category)
	for _, opt := range opts {
		opt(&n, &dur)
	}
	if dur > 0 {
		n.ExpiresAt = now.Add(dur)
	}

	c.mu.Lock()
	c.notices[n.ID] = n
	c.mu.Unlock()

	obs.ObserveNotification(string(category))
	c.publish(Event{Type: EventShown, Notice: n})
	return n, nil
}

// Update replaces the category and message of an existing notice, typically
// turning a loading notice into a success or error. The display duration
// restarts from the new category's default unless overridden.
func (c *Center) Update(id string, category Category, msg string, opts ...Option) (Notice, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return Notice{}, ErrEmptyMessage
	}
	now := c.now()

	c.mu.Lock()
	n, ok := c.notices[id]
	if !ok || n.expired(now) {
		delete(c.notices, id)
		c.mu.Unlock()
		return Notice{}, ErrNotFound
	}
	n.Category = category
	n.Message = msg
	n.ExpiresAt = time.Time{}
	dur := DefaultDuration(category)
	for _, opt := range opts {
		opt(&n, &dur)
	}
	if dur > 0 {
		n.ExpiresAt = now.Add(dur)
	}
	c.notices[id] = n
	c.mu.Unlock()

	obs.ObserveNotification(string(category))
	c.publish(Event{Type: EventUpdated, Notice: n})
	return n, nil
}

// Dismiss removes a notice. It reports whether the notice existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	n, ok := c.notices[id]
	delete(c.notices, id)
	c.mu.Unlock()
	if ok {
		c.publish(Event{Type: EventDismissed, Notice: n})
	}
	return ok
}

// Active lists unexpired notices visible to audience, oldest first. Expired
// notices are pruned.
func (c *Center) Active(audience string) []Notice {
	now := c.now()
	c.mu.Lock()
	out := make([]Notice, 0, len(c.notices))
	for id, n := range c.notices {
		if n.expired(now) {
			delete(c.notices, id)
			continue
		}
		if n.Audience == "" || n.Audience == audience {
			out = append(out, n)
		}
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (c *Center) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	c.subsMu.Lock()
	id := c.next
	c.next++
	c.subs[id] = ch
	c.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		c.subsMu.Lock()
		delete(c.subs, id)
		close(ch)
		c.subsMu.Unlock()
	}()
	return ch
}

func (c *Center) publish(evt Event) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber
		}
	}
}

// Visible reports whether evt should reach audience.
func (e Event) Visible(audience string) bool {
	return e.Notice.Audience == "" || e.Notice.Audience == audience
}

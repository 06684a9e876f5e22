// Package guard decides, per navigation, whether the current session may see
// a protected view.
package guard

import (
	"context"
	"fmt"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/obs"
	"inspectdesk.io/internal/session"
)

// Decision is the navigation outcome of one evaluation.
type Decision int

const (
	Pending Decision = iota
	RedirectToLogin
	RedirectToUnauthorized
	RenderFallback
	RenderProtected
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToUnauthorized:
		return "redirect_unauthorized"
	case RenderFallback:
		return "render_fallback"
	case RenderProtected:
		return "render_protected"
	default:
		return "unknown"
	}
}

// Requirement is a declarative access rule. Roles is any-of; an empty field
// places no constraint on that axis.
type Requirement struct {
	Roles      []auth.Role
	Permission string
}

// Validate rejects unknown roles and permissions not shaped resource:action.
func (r Requirement) Validate() error {
	for _, role := range r.Roles {
		if !role.Valid() {
			return fmt.Errorf("guard: unknown role %q: %w", role, auth.ErrInvalidInput)
		}
	}
	if r.Permission != "" && !auth.ValidPermission(r.Permission) {
		return fmt.Errorf("guard: malformed permission %q: %w", r.Permission, auth.ErrInvalidInput)
	}
	return nil
}

// MustRequire returns r or panics if it is malformed. Route tables are built
// at startup, so a bad rule is a programming error.
func MustRequire(r Requirement) Requirement {
	if err := r.Validate(); err != nil {
		panic(err)
	}
	return r
}

// Outcome is the result of Evaluate. ReturnTo is set for RedirectToLogin.
// Reason records which axis failed for audit purposes only; callers route
// on Decision.
type Outcome struct {
	Decision Decision
	ReturnTo string
	Reason   auth.Kind
}

// Evaluate applies req to st. It is pure: the same inputs always give the
// same outcome.
func Evaluate(st session.State, req Requirement, location string, fallback bool) Outcome {
	switch st.Status {
	case session.StatusLoading:
		return Outcome{Decision: Pending}
	case session.StatusAuthenticated:
	default:
		return Outcome{Decision: RedirectToLogin, ReturnTo: location}
	}

	reason := auth.KindUnknown
	if len(req.Roles) > 0 && !st.HasRole(req.Roles...) {
		reason = auth.KindInsufficientRole
	} else if req.Permission != "" && !st.HasPermission(req.Permission) {
		reason = auth.KindInsufficientPermission
	}
	switch {
	case reason == auth.KindUnknown:
		return Outcome{Decision: RenderProtected}
	case fallback:
		return Outcome{Decision: RenderFallback, Reason: reason}
	default:
		return Outcome{Decision: RedirectToUnauthorized, Reason: reason}
	}
}

// Navigator is the presentation host an Outcome drives.
type Navigator interface {
	RenderPending()
	RedirectToLogin(returnTo string)
	RedirectToUnauthorized()
	RenderFallback()
	RenderProtected()
}

// Apply dispatches o to nav and records the decision.
func Apply(o Outcome, nav Navigator) {
	obs.ObserveGuardDecision(o.Decision.String())
	switch o.Decision {
	case Pending:
		nav.RenderPending()
	case RedirectToLogin:
		nav.RedirectToLogin(o.ReturnTo)
	case RedirectToUnauthorized:
		nav.RedirectToUnauthorized()
	case RenderFallback:
		nav.RenderFallback()
	case RenderProtected:
		nav.RenderProtected()
	}
}

// Watch re-evaluates req on every state change of p and emits the outcome.
// Consecutive identical outcomes are coalesced. The channel closes when ctx
// ends.
func Watch(ctx context.Context, p *session.Provider, req Requirement, location string, fallback bool) <-chan Outcome {
	out := make(chan Outcome, 1)
	states := p.Subscribe(ctx)
	go func() {
		defer close(out)
		var (
			last Outcome
			sent bool
		)
		for st := range states {
			o := Evaluate(st, req, location, fallback)
			if sent && o == last {
				continue
			}
			select {
			case out <- o:
				last, sent = o, true
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

package guard

import (
	"context"
	"testing"
	"time"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/session"
)

var requirements = []Requirement{
	{},
	{Roles: []auth.Role{auth.RoleSuperAdmin}},
	{Permission: auth.PermUsersDelete},
	{Roles: []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin}, Permission: auth.PermUsersView},
}

func adminState() session.State {
	return session.Authenticated(auth.User{
		ID:          "u1",
		Role:        auth.RoleAdmin,
		Permissions: auth.NewPermissionSet(auth.PermUsersView),
	}, auth.TokenPair{AccessToken: "a", RefreshToken: "r"})
}

func TestLoadingIsPending(t *testing.T) {
	st := session.Loading()
	for _, req := range requirements {
		for _, fb := range []bool{false, true} {
			if got := Evaluate(st, req, "/users", fb); got.Decision != Pending {
				t.Fatalf("Evaluate(loading, %+v, %v) = %v", req, fb, got.Decision)
			}
		}
	}
	if st.HasRole(auth.Roles...) || st.HasPermission(auth.PermUsersView) {
		t.Fatalf("loading state must deny every check")
	}
}

func TestUnauthenticatedRedirectsToLogin(t *testing.T) {
	for _, st := range []session.State{session.Unauthenticated(""), session.Unauthenticated("Your session has expired.")} {
		for _, req := range requirements {
			got := Evaluate(st, req, "/users?page=2", true)
			if got.Decision != RedirectToLogin || got.ReturnTo != "/users?page=2" {
				t.Fatalf("unexpected outcome %+v for %+v", got, req)
			}
		}
	}
}

func TestRoleListMembership(t *testing.T) {
	st := adminState()
	req := Requirement{Roles: []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin}}
	if !st.HasRole(req.Roles...) {
		t.Fatalf("expected role match")
	}
	if got := Evaluate(st, req, "/users", false); got.Decision != RenderProtected {
		t.Fatalf("expected protected render, got %v", got.Decision)
	}
}

func TestMissingPermission(t *testing.T) {
	st := adminState()
	req := Requirement{Permission: auth.PermUsersDelete}

	got := Evaluate(st, req, "/users/u2", false)
	if got.Decision != RedirectToUnauthorized || got.Reason != auth.KindInsufficientPermission {
		t.Fatalf("unexpected outcome %+v", got)
	}
	got = Evaluate(st, req, "/users/u2", true)
	if got.Decision != RenderFallback {
		t.Fatalf("expected fallback, got %v", got.Decision)
	}
}

func TestRoleFailureDominates(t *testing.T) {
	st := adminState()
	req := Requirement{Roles: []auth.Role{auth.RoleSuperAdmin}, Permission: auth.PermUsersView}

	if !st.HasPermission(req.Permission) {
		t.Fatalf("permission axis should pass on its own")
	}
	got := Evaluate(st, req, "/companies", false)
	if got.Decision != RedirectToUnauthorized || got.Reason != auth.KindInsufficientRole {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if got := Evaluate(st, req, "/companies", true); got.Decision != RenderFallback {
		t.Fatalf("expected fallback, got %v", got.Decision)
	}
}

func TestEmptyRequirementPassesAnyUser(t *testing.T) {
	for _, role := range auth.Roles {
		st := session.Authenticated(auth.User{ID: "u", Role: role}, auth.TokenPair{AccessToken: "a"})
		if got := Evaluate(st, Requirement{}, "/", false); got.Decision != RenderProtected {
			t.Fatalf("role %s: got %v", role, got.Decision)
		}
	}
}

func TestNoRoleImpliesAnother(t *testing.T) {
	st := session.Authenticated(auth.User{ID: "root", Role: auth.RoleSuperAdmin}, auth.TokenPair{AccessToken: "a"})
	req := Requirement{Roles: []auth.Role{auth.RoleAdmin}}
	if got := Evaluate(st, req, "/users", false); got.Decision != RedirectToUnauthorized {
		t.Fatalf("superAdmin must not satisfy an admin-only rule, got %v", got.Decision)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	states := []session.State{session.Loading(), session.Unauthenticated("x"), adminState()}
	for _, st := range states {
		for _, req := range requirements {
			for _, fb := range []bool{false, true} {
				a := Evaluate(st, req, "/journeys", fb)
				b := Evaluate(st, req, "/journeys", fb)
				if a != b {
					t.Fatalf("non-deterministic outcome: %+v vs %+v", a, b)
				}
			}
		}
	}
}

func TestMustRequirePanicsOnMalformed(t *testing.T) {
	cases := []Requirement{
		{Roles: []auth.Role{"owner"}},
		{Permission: "users"},
		{Permission: "Users:View:All"},
	}
	for _, req := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for %+v", req)
				}
			}()
			MustRequire(req)
		}()
	}
	ok := MustRequire(Requirement{Roles: []auth.Role{auth.RoleAdmin}, Permission: auth.PermUsersCreate})
	if ok.Permission != auth.PermUsersCreate {
		t.Fatalf("requirement altered")
	}
}

type recordingNavigator struct {
	calls []string
}

func (n *recordingNavigator) RenderPending() { n.calls = append(n.calls, "pending") }
func (n *recordingNavigator) RedirectToLogin(returnTo string) {
	n.calls = append(n.calls, "login:"+returnTo)
}
func (n *recordingNavigator) RedirectToUnauthorized() { n.calls = append(n.calls, "unauthorized") }
func (n *recordingNavigator) RenderFallback()         { n.calls = append(n.calls, "fallback") }
func (n *recordingNavigator) RenderProtected()        { n.calls = append(n.calls, "protected") }

func TestApplyDrivesNavigator(t *testing.T) {
	nav := &recordingNavigator{}
	Apply(Outcome{Decision: Pending}, nav)
	Apply(Outcome{Decision: RedirectToLogin, ReturnTo: "/journeys"}, nav)
	Apply(Outcome{Decision: RedirectToUnauthorized}, nav)
	Apply(Outcome{Decision: RenderFallback}, nav)
	Apply(Outcome{Decision: RenderProtected}, nav)

	want := []string{"pending", "login:/journeys", "unauthorized", "fallback", "protected"}
	if len(nav.calls) != len(want) {
		t.Fatalf("unexpected calls %v", nav.calls)
	}
	for i := range want {
		if nav.calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, nav.calls[i], want[i])
		}
	}
}

type stubBackend struct{ user auth.User }

func (b stubBackend) Exchange(context.Context, auth.Credentials) (auth.TokenPair, auth.User, error) {
	return auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, b.user, nil
}

func (b stubBackend) Restore(_ context.Context, t auth.TokenPair) (auth.TokenPair, auth.User, error) {
	return t, b.user, nil
}

func (b stubBackend) Refresh(_ context.Context, t auth.TokenPair) (auth.TokenPair, auth.User, error) {
	return t, b.user, nil
}

func (stubBackend) Logout(context.Context, auth.TokenPair) error { return nil }

func TestWatchReevaluatesOnChange(t *testing.T) {
	p := session.NewProvider(stubBackend{user: auth.User{ID: "u1", Role: auth.RoleUser}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcomes := Watch(ctx, p, Requirement{Permission: auth.PermJourneysView}, "/journeys", false)
	next := func() Outcome {
		select {
		case o, ok := <-outcomes:
			if !ok {
				t.Fatalf("watch closed early")
			}
			return o
		case <-ctx.Done():
			t.Fatalf("timed out waiting for outcome")
		}
		return Outcome{}
	}

	if o := next(); o.Decision != Pending {
		t.Fatalf("expected pending first, got %v", o.Decision)
	}
	if err := p.Restore(ctx, auth.TokenPair{}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if o := next(); o.Decision != RedirectToLogin || o.ReturnTo != "/journeys" {
		t.Fatalf("expected login redirect, got %+v", o)
	}
	if err := p.Login(ctx, auth.Credentials{Email: "u@example.com", Password: "pw"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if o := next(); o.Decision != RedirectToUnauthorized {
		t.Fatalf("expected unauthorized without journeys:view, got %v", o.Decision)
	}
}

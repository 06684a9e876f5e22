package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPermissionSetExactMatch(t *testing.T) {
	set := NewPermissionSet("users:view", "", "journeys:view")

	if !set.Has("users:view") {
		t.Fatalf("expected users:view")
	}
	if set.Has("users:update") {
		t.Fatalf("users:view must not imply users:update")
	}
	if set.Has("Users:View") {
		t.Fatalf("membership must be case-sensitive")
	}
	if set.Has("users:*") || set.Has("users") {
		t.Fatalf("no wildcard or prefix semantics expected")
	}
	if len(set) != 2 {
		t.Fatalf("expected blank keys dropped, got %v", set.Sorted())
	}
}

func TestUserCloneIsIndependent(t *testing.T) {
	u := User{ID: "u1", Role: RoleAdmin, Permissions: NewPermissionSet("users:view")}
	c := u.Clone()
	c.Permissions["users:delete"] = struct{}{}
	if u.HasPermission("users:delete") {
		t.Fatalf("clone shares permission map")
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		if err != nil || got != r {
			t.Fatalf("ParseRole(%q) = %q, %v", r, got, err)
		}
	}
	if _, err := ParseRole("SuperAdmin"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for wrong case, got %v", err)
	}
}

func TestValidPermission(t *testing.T) {
	cases := map[string]bool{
		"users:create":       true,
		"cost-matrices:view": true,
		"users":              false,
		":view":              false,
		"users:":             false,
		"users:view:all":     false,
		" users:view":        false,
		"users :view":        false,
	}
	for key, want := range cases {
		if got := ValidPermission(key); got != want {
			t.Fatalf("ValidPermission(%q) = %v, want %v", key, got, want)
		}
	}
	for _, p := range BuiltinPermissions {
		if !ValidPermission(p.Key) {
			t.Fatalf("builtin permission %q is malformed", p.Key)
		}
	}
}

func TestDefaultPermissions(t *testing.T) {
	if got := DefaultPermissions(RoleSuperAdmin); len(got) != len(BuiltinPermissions) {
		t.Fatalf("super admin should hold the full catalog, got %d", len(got))
	}
	if DefaultPermissions(RoleAdmin).Has(PermCompaniesCreate) {
		t.Fatalf("admin must not manage companies by default")
	}
	if DefaultPermissions(RoleUser).Has(PermUsersView) {
		t.Fatalf("standard user must not list users by default")
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("refresh: %w", NewError(KindNetworkFailure, "", cause))

	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected network failure kind")
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Fatalf("unexpected session expired match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if KindOf(err) != KindNetworkFailure {
		t.Fatalf("unexpected kind %v", KindOf(err))
	}
	if KindOf(cause) != KindUnknown {
		t.Fatalf("plain errors have no kind")
	}

	var e *Error
	if !errors.As(err, &e) || e.Message() != KindNetworkFailure.Message() {
		t.Fatalf("expected default display message")
	}
	custom := NewError(KindSessionExpired, "Signed out elsewhere.", nil)
	if custom.Message() != "Signed out elsewhere." {
		t.Fatalf("unexpected message %q", custom.Message())
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFromContext(ctx); ok {
		t.Fatalf("unexpected user")
	}
	ctx = ContextWithUser(ctx, User{ID: "user-7", Role: RoleUser})
	ctx = ContextWithSessionID(ctx, "sess-1")

	u, ok := UserFromContext(ctx)
	if !ok || u.ID != "user-7" {
		t.Fatalf("unexpected user %+v ok=%v", u, ok)
	}
	sid, ok := SessionIDFromContext(ctx)
	if !ok || sid != "sess-1" {
		t.Fatalf("unexpected session id %q", sid)
	}
	if got := ContextWithSessionID(context.Background(), ""); got != context.Background() {
		t.Fatalf("blank session id should not wrap context")
	}
}

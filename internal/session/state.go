package session

import (
	"slices"

	"inspectdesk.io/internal/auth"
)

// Status tags the AuthState union.
type Status int

const (
	StatusLoading Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the session. User and Tokens are only
// meaningful when Status is StatusAuthenticated; Message carries display text
// for the last failure and is independent of Status.
type State struct {
	Status     Status
	User       auth.User
	Tokens     auth.TokenPair
	Message    string
	Generation uint64
}

// Loading is the state every provider starts in.
func Loading() State { return State{Status: StatusLoading} }

// Unauthenticated builds a signed-out state with an optional display message.
func Unauthenticated(message string) State {
	return State{Status: StatusUnauthenticated, Message: message}
}

// Authenticated builds a signed-in state. The user is cloned so the snapshot
// owns its permission set.
func Authenticated(user auth.User, tokens auth.TokenPair) State {
	return State{Status: StatusAuthenticated, User: user.Clone(), Tokens: tokens}
}

func (s State) IsLoading() bool       { return s.Status == StatusLoading }
func (s State) IsAuthenticated() bool { return s.Status == StatusAuthenticated }

// HasRole reports whether the state is authenticated and the user's role is
// one of roles. No role implies another.
func (s State) HasRole(roles ...auth.Role) bool {
	if s.Status != StatusAuthenticated {
		return false
	}
	return slices.Contains(roles, s.User.Role)
}

// HasPermission reports whether the state is authenticated and the user holds
// permission exactly.
func (s State) HasPermission(permission string) bool {
	if s.Status != StatusAuthenticated {
		return false
	}
	return s.User.HasPermission(permission)
}

package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrInvalidToken  = errors.New("auth: invalid token")
)

// Kind classifies session and authorization failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionExpired
	KindInvalidCredentials
	KindNetworkFailure
	KindInsufficientRole
	KindInsufficientPermission
)

func (k Kind) String() string {
	switch k {
	case KindSessionExpired:
		return "session_expired"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNetworkFailure:
		return "network_failure"
	case KindInsufficientRole:
		return "insufficient_role"
	case KindInsufficientPermission:
		return "insufficient_permission"
	default:
		return "unknown"
	}
}

// Message is the user-facing text shown for a failure of kind k.
func (k Kind) Message() string {
	switch k {
	case KindSessionExpired:
		return "Your session has expired. Please sign in again."
	case KindInvalidCredentials:
		return "Invalid email or password."
	case KindNetworkFailure:
		return "Unable to reach the server. Check your connection and try again."
	case KindInsufficientRole, KindInsufficientPermission:
		return "You do not have access to this page."
	default:
		return "Something went wrong."
	}
}

// Error carries a Kind plus the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// NewError wraps cause under kind. An empty msg falls back to Kind.Message.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return "auth: " + e.Kind.String() + ": " + msg + ": " + e.Err.Error()
	}
	return "auth: " + e.Kind.String() + ": " + msg
}

// Message returns the display string.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Message()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrSessionExpired         = &Error{Kind: KindSessionExpired}
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials}
	ErrNetworkFailure         = &Error{Kind: KindNetworkFailure}
	ErrInsufficientRole       = &Error{Kind: KindInsufficientRole}
	ErrInsufficientPermission = &Error{Kind: KindInsufficientPermission}
)

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

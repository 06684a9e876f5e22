package session

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"inspectdesk.io/internal/auth"
)

// Backend is the session authority the provider delegates to.
type Backend interface {
	// Exchange trades credentials for a token pair and the resolved user.
	Exchange(ctx context.Context, creds auth.Credentials) (auth.TokenPair, auth.User, error)
	// Restore resolves the user behind a stored token pair. Implementations
	// may rotate the pair and return the new one.
	Restore(ctx context.Context, tokens auth.TokenPair) (auth.TokenPair, auth.User, error)
	// Refresh rotates tokens and returns the current user alongside them.
	Refresh(ctx context.Context, tokens auth.TokenPair) (auth.TokenPair, auth.User, error)
	// Logout invalidates tokens server-side.
	Logout(ctx context.Context, tokens auth.TokenPair) error
}

// Classify maps a backend error onto the auth taxonomy. Errors already
// carrying a kind are returned as-is; transport failures become
// KindNetworkFailure.
func Classify(err error) *auth.Error {
	if err == nil {
		return nil
	}
	var ae *auth.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrNotFound) {
		return auth.NewError(auth.KindSessionExpired, "", err)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unauthenticated:
			return auth.NewError(auth.KindSessionExpired, "", err)
		case codes.PermissionDenied:
			return auth.NewError(auth.KindInsufficientPermission, "", err)
		case codes.InvalidArgument:
			return auth.NewError(auth.KindInvalidCredentials, "", err)
		default:
			return auth.NewError(auth.KindNetworkFailure, "", err)
		}
	}
	// Anything else (timeouts, refused connections, backend faults) means the
	// session authority could not answer.
	return auth.NewError(auth.KindNetworkFailure, "", err)
}

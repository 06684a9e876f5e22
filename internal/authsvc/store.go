package authsvc

import (
	"context"
	"time"

	"inspectdesk.io/internal/auth"
)

// Store describes persistence operations required by the session authority.
type Store interface {
	Companies() CompanyStore
	Users() UserStore
	RefreshTokens() RefreshTokenStore
}

// Account is a user together with its login secrets.
type Account struct {
	auth.User
	PasswordHash string
	Disabled     bool
}

// RefreshToken is the stored half of an opaque refresh token. Only the
// SHA-256 hash of the secret is kept.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt time.Time
	CreatedAt time.Time
}

func (t RefreshToken) Revoked() bool { return !t.RevokedAt.IsZero() }

// CompanyStore manages tenants.
type CompanyStore interface {
	Create(ctx context.Context, c *auth.Company) error
	Find(ctx context.Context, id string) (*auth.Company, error)
	List(ctx context.Context) ([]*auth.Company, error)
}

// UserStore manages accounts and their permission sets. Find and
// FindByEmail return the account with Permissions populated.
type UserStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	ListByCompany(ctx context.Context, companyID string) ([]*auth.User, error)
	SetPermissions(ctx context.Context, userID string, perms []string) error
}

// RefreshTokenStore manages refresh token lifecycle. MarkRevoked reports
// whether this call revoked the token; it returns false when the token was
// already revoked or does not exist.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string, at time.Time) (bool, error)
	MarkRevokedByUser(ctx context.Context, userID string, at time.Time) error
}

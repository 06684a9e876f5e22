// Package authsvc is the in-process session authority: it verifies
// credentials, mints and rotates token pairs and resolves the user behind
// them. It satisfies session.Backend.
package authsvc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/ids"
	"inspectdesk.io/internal/obs"
	"inspectdesk.io/internal/session"
)

const (
	defaultIssuer     = "inspectdesk"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
	minSecretLength   = 16
)

var (
	_ session.Backend = (*Service)(nil)

	errMissingSecret = errors.New("authsvc: token secret must be at least 16 bytes")
)

// Service issues and validates session tokens.
type Service struct {
	store      Store
	now        func() time.Time
	log        zerolog.Logger
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Claims are the access token claims.
type Claims struct {
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing key.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if len(secret) < minSecretLength {
			return errMissingSecret
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer sets the iss claim written and required on access tokens.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("authsvc: access ttl must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("authsvc: refresh ttl must be positive")
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. A token secret is required.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authsvc: store is required")
	}
	s := &Service{
		store:      store,
		now:        time.Now,
		log:        obs.Component("authsvc"),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if len(s.secret) == 0 {
		return nil, errMissingSecret
	}
	return s, nil
}

func invalidCredentials() error {
	return auth.NewError(auth.KindInvalidCredentials, "", nil)
}

func sessionExpired(cause error) error {
	if cause == nil {
		cause = auth.ErrInvalidToken
	}
	return auth.NewError(auth.KindSessionExpired, "", cause)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Exchange verifies credentials and issues a fresh token pair.
func (s *Service) Exchange(ctx context.Context, creds auth.Credentials) (auth.TokenPair, auth.User, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return auth.TokenPair{}, auth.User{}, invalidCredentials()
	}
	acct, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.TokenPair{}, auth.User{}, invalidCredentials()
		}
		return auth.TokenPair{}, auth.User{}, fmt.Errorf("find user: %w", err)
	}
	if acct.Disabled {
		return auth.TokenPair{}, auth.User{}, invalidCredentials()
	}
	if err := VerifyPassword(acct.PasswordHash, creds.Password); err != nil {
		return auth.TokenPair{}, auth.User{}, invalidCredentials()
	}
	pair, err := s.mint(ctx, acct.User)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	return pair, acct.User, nil
}

// Restore resolves the user behind stored tokens. A still-valid access token
// is kept as is; an expired one is rotated through Refresh.
func (s *Service) Restore(ctx context.Context, tokens auth.TokenPair) (auth.TokenPair, auth.User, error) {
	claims, err := s.parseAccess(tokens.AccessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return s.Refresh(ctx, tokens)
		}
		return auth.TokenPair{}, auth.User{}, sessionExpired(err)
	}
	rec, secret, err := s.lookupRefresh(ctx, tokens.RefreshToken)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	if !secureCompareHash(rec.TokenHash, secret) || rec.Revoked() || !s.now().Before(rec.ExpiresAt) || rec.UserID != claims.Subject {
		return auth.TokenPair{}, auth.User{}, sessionExpired(nil)
	}
	acct, err := s.activeAccount(ctx, claims.Subject)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	return auth.TokenPair{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, acct.User, nil
}

// Refresh rotates the refresh token and issues new access credentials.
// Presenting an already revoked refresh token revokes every token of its
// user.
func (s *Service) Refresh(ctx context.Context, tokens auth.TokenPair) (auth.TokenPair, auth.User, error) {
	rec, secret, err := s.lookupRefresh(ctx, tokens.RefreshToken)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	store := s.store.RefreshTokens()
	now := s.now().UTC()
	if !secureCompareHash(rec.TokenHash, secret) {
		_, _ = store.MarkRevoked(ctx, rec.ID, now)
		return auth.TokenPair{}, auth.User{}, sessionExpired(nil)
	}
	if rec.Revoked() {
		return auth.TokenPair{}, auth.User{}, s.revokeReused(ctx, rec, now)
	}
	if !now.Before(rec.ExpiresAt) {
		return auth.TokenPair{}, auth.User{}, sessionExpired(nil)
	}
	acct, err := s.activeAccount(ctx, rec.UserID)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	// Only the call that flips revoked_at may rotate; a concurrent presenter
	// of the same token lost the race and is treated as reuse.
	rotated, err := store.MarkRevoked(ctx, rec.ID, now)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !rotated {
		return auth.TokenPair{}, auth.User{}, s.revokeReused(ctx, rec, now)
	}
	pair, err := s.mint(ctx, acct.User)
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	return pair, acct.User, nil
}

// Logout revokes the refresh token. Unknown or malformed tokens are ignored.
func (s *Service) Logout(ctx context.Context, tokens auth.TokenPair) error {
	id, secret, err := splitRefreshToken(tokens.RefreshToken)
	if err != nil {
		return nil
	}
	store := s.store.RefreshTokens()
	rec, err := store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find refresh token: %w", err)
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return nil
	}
	if _, err := store.MarkRevoked(ctx, rec.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// revokeReused handles a refresh token presented after it was already
// rotated: every token of the user is revoked.
func (s *Service) revokeReused(ctx context.Context, rec *RefreshToken, now time.Time) error {
	s.log.Warn().Str("user_id", rec.UserID).Str("token_id", rec.ID).Msg("revoked refresh token presented, revoking all sessions")
	if err := s.store.RefreshTokens().MarkRevokedByUser(ctx, rec.UserID, now); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return sessionExpired(nil)
}

// Authenticate validates a bearer access token and returns its user with
// current permissions.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (auth.User, error) {
	claims, err := s.parseAccess(accessToken)
	if err != nil {
		return auth.User{}, sessionExpired(err)
	}
	acct, err := s.activeAccount(ctx, claims.Subject)
	if err != nil {
		return auth.User{}, err
	}
	return acct.User, nil
}

func (s *Service) activeAccount(ctx context.Context, userID string) (*Account, error) {
	acct, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, sessionExpired(err)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if acct.Disabled {
		return nil, sessionExpired(nil)
	}
	return acct, nil
}

func (s *Service) lookupRefresh(ctx context.Context, raw string) (*RefreshToken, string, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil, "", sessionExpired(err)
	}
	rec, err := s.store.RefreshTokens().Find(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, "", sessionExpired(err)
		}
		return nil, "", fmt.Errorf("find refresh token: %w", err)
	}
	return rec, secret, nil
}

func (s *Service) mint(ctx context.Context, user auth.User) (auth.TokenPair, error) {
	now := s.now().UTC()
	access, exp, err := s.signAccess(user, now)
	if err != nil {
		return auth.TokenPair{}, err
	}
	raw, rec, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return auth.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return auth.TokenPair{AccessToken: access, RefreshToken: raw, ExpiresAt: exp}, nil
}

func (s *Service) signAccess(user auth.User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL).Truncate(time.Second)
	claims := Claims{
		Role:      string(user.Role),
		CompanyID: user.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) parseAccess(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        ids.Prefixed("rt"),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || id == "" || secret == "" || strings.Contains(secret, ".") {
		return "", "", errors.New("invalid refresh token format")
	}
	return id, secret, nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

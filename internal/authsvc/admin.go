package authsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inspectdesk.io/internal/auth"
)

// NewUser describes an account to provision. Nil Permissions means the
// role's default set.
type NewUser struct {
	Name        string
	Email       string
	Password    string
	Role        auth.Role
	CompanyID   string
	Permissions []string
}

func (n NewUser) validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("name is required: %w", auth.ErrInvalidInput)
	}
	if !strings.Contains(n.Email, "@") {
		return fmt.Errorf("email %q is invalid: %w", n.Email, auth.ErrInvalidInput)
	}
	if !n.Role.Valid() {
		return fmt.Errorf("role %q is invalid: %w", n.Role, auth.ErrInvalidInput)
	}
	if len(n.Password) < MinPasswordLength {
		return fmt.Errorf("password must have at least %d characters: %w", MinPasswordLength, auth.ErrInvalidInput)
	}
	return validPermissions(n.Permissions)
}

func validPermissions(perms []string) error {
	for _, p := range perms {
		if !auth.ValidPermission(p) {
			return fmt.Errorf("permission %q is malformed: %w", p, auth.ErrInvalidInput)
		}
	}
	return nil
}

// CreateCompany registers a tenant.
func (s *Service) CreateCompany(ctx context.Context, name string) (auth.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return auth.Company{}, fmt.Errorf("company name is required: %w", auth.ErrInvalidInput)
	}
	c := auth.Company{Name: name}
	if err := s.store.Companies().Create(ctx, &c); err != nil {
		return auth.Company{}, fmt.Errorf("create company: %w", err)
	}
	return c, nil
}

// CreateUser provisions an account with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, n NewUser) (auth.User, error) {
	n.Email = normalizeEmail(n.Email)
	if err := n.validate(); err != nil {
		return auth.User{}, err
	}
	if n.CompanyID != "" {
		if _, err := s.store.Companies().Find(ctx, n.CompanyID); err != nil {
			return auth.User{}, fmt.Errorf("company %s: %w", n.CompanyID, err)
		}
	}
	hash, err := HashPassword(n.Password)
	if err != nil {
		return auth.User{}, err
	}
	perms := auth.DefaultPermissions(n.Role)
	if n.Permissions != nil {
		perms = auth.NewPermissionSet(n.Permissions...)
	}
	acct := Account{
		User: auth.User{
			Name:        strings.TrimSpace(n.Name),
			Email:       n.Email,
			Role:        n.Role,
			CompanyID:   n.CompanyID,
			Permissions: perms,
		},
		PasswordHash: hash,
	}
	if err := s.store.Users().Create(ctx, &acct); err != nil {
		return auth.User{}, fmt.Errorf("create user: %w", err)
	}
	return acct.User, nil
}

// SetPermissions replaces a user's permission set. Sessions pick the change
// up on their next refresh.
func (s *Service) SetPermissions(ctx context.Context, userID string, perms []string) error {
	if err := validPermissions(perms); err != nil {
		return err
	}
	if err := s.store.Users().SetPermissions(ctx, userID, perms); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	return nil
}

// EnsureBootstrapAdmin creates a super administrator with email unless an
// account with that email already exists. It reports whether one was created.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return false, fmt.Errorf("find bootstrap admin: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	u, err := s.CreateUser(ctx, NewUser{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     auth.RoleSuperAdmin,
	})
	if err != nil {
		return false, err
	}
	s.log.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("bootstrap super admin created")
	return true, nil
}

// ListCompanies returns every tenant ordered by name.
func (s *Service) ListCompanies(ctx context.Context) ([]auth.Company, error) {
	list, err := s.store.Companies().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	out := make([]auth.Company, 0, len(list))
	for _, c := range list {
		out = append(out, *c)
	}
	return out, nil
}

// ListUsers returns the users of one company. An empty companyID lists
// platform users that belong to no company.
func (s *Service) ListUsers(ctx context.Context, companyID string) ([]auth.User, error) {
	list, err := s.store.Users().ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]auth.User, 0, len(list))
	for _, u := range list {
		out = append(out, u.Clone())
	}
	return out, nil
}

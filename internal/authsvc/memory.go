package authsvc

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process. It backs development runs without
// a database and the service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	companies map[string]auth.Company
	accounts  map[string]Account
	byEmail   map[string]string
	tokens    map[string]RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		companies: make(map[string]auth.Company),
		accounts:  make(map[string]Account),
		byEmail:   make(map[string]string),
		tokens:    make(map[string]RefreshToken),
	}
}

func (s *MemoryStore) Companies() CompanyStore          { return memCompanies{s} }
func (s *MemoryStore) Users() UserStore                 { return memUsers{s} }
func (s *MemoryStore) RefreshTokens() RefreshTokenStore { return memTokens{s} }

type memCompanies struct{ s *MemoryStore }

func (m memCompanies) Create(_ context.Context, c *auth.Company) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.Prefixed("cmp")
	}
	for _, existing := range m.s.companies {
		if strings.EqualFold(existing.Name, c.Name) {
			return auth.ErrAlreadyExists
		}
	}
	now := m.s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.s.companies[c.ID] = *c
	return nil
}

func (m memCompanies) Find(_ context.Context, id string) (*auth.Company, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	c, ok := m.s.companies[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &c, nil
}

func (m memCompanies) List(_ context.Context) ([]*auth.Company, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	res := make([]*auth.Company, 0, len(m.s.companies))
	for _, c := range m.s.companies {
		c := c
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, a *Account) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.Prefixed("usr")
	}
	if _, ok := m.s.byEmail[a.Email]; ok {
		return auth.ErrAlreadyExists
	}
	if _, ok := m.s.accounts[a.ID]; ok {
		return auth.ErrAlreadyExists
	}
	now := m.s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	stored := *a
	stored.User = a.User.Clone()
	m.s.accounts[a.ID] = stored
	m.s.byEmail[a.Email] = a.ID
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*Account, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.s.account(id)
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return m.s.account(id)
}

func (m memUsers) ListByCompany(_ context.Context, companyID string) ([]*auth.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var res []*auth.User
	for _, a := range m.s.accounts {
		if a.CompanyID == companyID {
			u := a.User.Clone()
			res = append(res, &u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m memUsers) SetPermissions(_ context.Context, userID string, perms []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.accounts[userID]
	if !ok {
		return auth.ErrNotFound
	}
	a.Permissions = auth.NewPermissionSet(perms...)
	a.UpdatedAt = m.s.now().UTC()
	m.s.accounts[userID] = a
	return nil
}

// account must be called with s.mu held.
func (s *MemoryStore) account(id string) (*Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	a.User = a.User.Clone()
	return &a, nil
}

type memTokens struct{ s *MemoryStore }

func (m memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tokens[tok.ID]; ok {
		return auth.ErrAlreadyExists
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = m.s.now().UTC()
	}
	m.s.tokens[tok.ID] = *tok
	return nil
}

func (m memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	tok, ok := m.s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &tok, nil
}

func (m memTokens) MarkRevoked(_ context.Context, id string, at time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.tokens[id]
	if !ok || tok.Revoked() {
		return false, nil
	}
	tok.RevokedAt = at
	m.s.tokens[id] = tok
	return true, nil
}

func (m memTokens) MarkRevokedByUser(_ context.Context, userID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for id, tok := range m.s.tokens {
		if tok.UserID == userID && !tok.Revoked() {
			tok.RevokedAt = at
			m.s.tokens[id] = tok
		}
	}
	return nil
}

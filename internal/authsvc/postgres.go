package authsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through database/sql and the pgx
// stdlib driver.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Companies() CompanyStore          { return &companyStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

// Ping checks connectivity for readiness probes.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, auth.ErrAlreadyExists)
	}
	return err
}

// Company store ------------------------------------------------------------
type companyStore struct{ db *sql.DB }

func (s *companyStore) Create(ctx context.Context, c *auth.Company) error {
	if c.ID == "" {
		c.ID = ids.Prefixed("cmp")
	}
	err := s.db.QueryRowContext(ctx,
		`insert into companies(id, name) values($1,$2) returning created_at, updated_at`,
		c.ID, c.Name,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapWriteErr(err)
}

func (s *companyStore) Find(ctx context.Context, id string) (*auth.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from companies where id=$1`, id)
	var c auth.Company
	if err := row.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *companyStore) List(ctx context.Context) ([]*auth.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, created_at, updated_at from companies order by name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*auth.Company
	for rows.Next() {
		var c auth.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &c)
	}
	return res, rows.Err()
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, company_id, name, email, role, password_hash, disabled, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.Prefixed("usr")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`insert into users(id, company_id, name, email, role, password_hash, disabled) values($1,$2,$3,$4,$5,$6,$7) returning created_at, updated_at`,
		a.ID, nullString(a.CompanyID), a.Name, a.Email, string(a.Role), a.PasswordHash, a.Disabled,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	for _, perm := range a.Permissions.Sorted() {
		if _, err := tx.ExecContext(ctx,
			`insert into user_permissions(user_id, permission) values($1,$2)`, a.ID, perm); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*Account, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where email=$1`, email)
}

func (s *userStore) findOne(ctx context.Context, query, arg string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	perms, err := s.permissions(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Permissions = auth.NewPermissionSet(perms...)
	return a, nil
}

func (s *userStore) permissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select permission from user_permissions where user_id=$1 order by permission`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *userStore) ListByCompany(ctx context.Context, companyID string) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where coalesce(company_id, '')=$1 order by created_at`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*auth.User
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, &a.User)
	}
	return res, rows.Err()
}

func (s *userStore) SetPermissions(ctx context.Context, userID string, perms []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_permissions where user_id=$1`, userID); err != nil {
		return err
	}
	for _, perm := range auth.NewPermissionSet(perms...).Sorted() {
		if _, err := tx.ExecContext(ctx,
			`insert into user_permissions(user_id, permission) values($1,$2)`, userID, perm); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `update users set updated_at=now() where id=$1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a       Account
		company sql.NullString
		role    string
	)
	if err := row.Scan(&a.ID, &company, &a.Name, &a.Email, &role, &a.PasswordHash, &a.Disabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.CompanyID = company.String
	a.Role = auth.Role(role)
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at) values($1,$2,$3,$4)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return mapWriteErr(err)
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, revoked_at, created_at from refresh_tokens where id=$1`, id)
	var (
		tok     RefreshToken
		revoked sql.NullTime
	)
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &revoked, &tok.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		tok.RevokedAt = revoked.Time
	}
	return &tok, nil
}

func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where id=$1 and revoked_at is null`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *refreshTokenStore) MarkRevokedByUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at)
	return err
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"guardian/internal/backend"
	"guardian/pkg/domain"
	"guardian/pkg/platform/sentinel"
	"guardian/pkg/platform/tx"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Schema creates the credential and profile tables.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id       UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
	user_id      UUID PRIMARY KEY,
	email        TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL,
	role         TEXT NOT NULL,
	role_title   TEXT NOT NULL,
	address      TEXT UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`

const uniqueViolation = "23505"

const profileColumns = `user_id, email, display_name, role, role_title, address, created_at, updated_at`

// Store implements backend.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply backend schema: %w", err)
	}
	return nil
}

func (s *Store) CreateCredential(ctx context.Context, c *backend.Credential) error {
	_, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(c.UserID), c.Email, c.PasswordHash, c.CreatedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *Store) FindCredential(ctx context.Context, email string) (*backend.Credential, error) {
	var (
		c  backend.Credential
		id uuid.UUID
	)
	err := tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, created_at FROM credentials WHERE email = $1`, email).
		Scan(&id, &c.Email, &c.PasswordHash, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	c.UserID = domain.UserID(id)
	return &c, nil
}

func (s *Store) FindProfile(ctx context.Context, id domain.UserID) (*backend.Profile, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, uuid.UUID(id))
	return scanProfile(row)
}

func (s *Store) FindProfileByAddress(ctx context.Context, addr common.Address) (*backend.Profile, error) {
	row := tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE address = $1`, addr.Hex())
	return scanProfile(row)
}

func (s *Store) SaveProfile(ctx context.Context, p *backend.Profile) error {
	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			role_title = EXCLUDED.role_title,
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query, profileArgs(p)...)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// CreateProfileIfFirst locks the profiles table for the check and the
// insert, so exactly one concurrent first-run bootstrap wins.
func (s *Store) CreateProfileIfFirst(ctx context.Context, p *backend.Profile) (bool, error) {
	created := false
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.Q(ctx, s.db)
		if _, err := q.ExecContext(ctx, `LOCK TABLE profiles IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock profiles: %w", err)
		}
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM profiles)`).Scan(&exists); err != nil {
			return fmt.Errorf("check profiles: %w", err)
		}
		if exists {
			return nil
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			profileArgs(p)...); err != nil {
			return fmt.Errorf("insert first profile: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := tx.Q(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

func profileArgs(p *backend.Profile) []any {
	var addr sql.NullString
	if p.Address != nil {
		addr = sql.NullString{String: p.Address.Hex(), Valid: true}
	}
	return []any{uuid.UUID(p.UserID), p.Email, p.DisplayName, p.Role.String(), p.RoleTitle, addr, p.CreatedAt, p.UpdatedAt}
}

func scanProfile(row *sql.Row) (*backend.Profile, error) {
	var (
		p                  backend.Profile
		id                 uuid.UUID
		role               string
		addr               sql.NullString
		createdAt, updated time.Time
	)
	err := row.Scan(&id, &p.Email, &p.DisplayName, &role, &p.RoleTitle, &addr, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	p.UserID = domain.UserID(id)
	p.Role = parsed
	p.CreatedAt = createdAt
	p.UpdatedAt = updated
	if addr.Valid {
		a, err := domain.ParseAddress(addr.String)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
		}
		p.Address = &a
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

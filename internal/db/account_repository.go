package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Account is an authenticated principal. The core uses only the stable ID;
// everything else belongs to the auth surface.
type Account struct {
	ID           uuid.UUID
	Login        string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// AccountRepository reads and writes account rows.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByLogin retrieves an account by login. Returns nil, nil if it does not
// exist.
func (r *AccountRepository) GetByLogin(ctx context.Context, login string) (*Account, error) {
	login = strings.ToLower(login)
	var acc Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at, last_login_at
		 FROM accounts WHERE login = $1`, login,
	).Scan(&acc.ID, &acc.Login, &acc.PasswordHash, &acc.CreatedAt, &acc.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account %q: %w", login, err)
	}
	return &acc, nil
}

// Create inserts a new account. A duplicate login surfaces ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, login, passwordHash string) (*Account, error) {
	login = strings.ToLower(login)
	acc := Account{ID: uuid.New(), Login: login, PasswordHash: passwordHash}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (id, login, password_hash) VALUES ($1, $2, $3)
		 RETURNING created_at`,
		acc.ID, acc.Login, acc.PasswordHash,
	).Scan(&acc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("account %q: %w", login, ErrConflict)
		}
		return nil, fmt.Errorf("creating account %q: %w", login, err)
	}
	return &acc, nil
}

// TouchLastLogin records a successful login.
func (r *AccountRepository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_login_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("updating last login for %s: %w", id, err)
	}
	return nil
}

// Package auth owns accounts and session tokens. The core consumes only the
// player id it resolves; everything else stays behind this boundary.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/udisondev/gridshard/internal/db"
)

var (
	// ErrInvalidCredentials marks a failed login attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken marks a token that failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Accounts is the persistence surface the service needs.
type Accounts interface {
	GetByLogin(ctx context.Context, login string) (*db.Account, error)
	Create(ctx context.Context, login, passwordHash string) (*db.Account, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// Config carries the auth tunables.
type Config struct {
	JWTSecret          string
	TokenTTL           time.Duration
	AutoCreateAccounts bool
}

// Service implements registration, login, and handshake token verification.
type Service struct {
	cfg      Config
	accounts Accounts
}

// NewService creates the auth service. An empty JWT secret is refused: the
// shard cannot hand out unverifiable sessions.
func NewService(cfg Config, accounts Accounts) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth: jwt_secret must be set")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{cfg: cfg, accounts: accounts}, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, login, password string) (*db.Account, error) {
	if login == "" || password == "" {
		return nil, fmt.Errorf("login and password must not be empty: %w", ErrInvalidCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return s.accounts.Create(ctx, login, string(hash))
}

// Login verifies credentials and issues a session token. With auto-create
// enabled, an unknown login becomes a fresh account.
func (s *Service) Login(ctx context.Context, login, password string) (string, error) {
	acc, err := s.accounts.GetByLogin(ctx, login)
	if err != nil {
		return "", fmt.Errorf("loading account: %w", err)
	}
	if acc == nil {
		if !s.cfg.AutoCreateAccounts {
			return "", ErrInvalidCredentials
		}
		acc, err = s.Register(ctx, login, password)
		if err != nil {
			return "", fmt.Errorf("auto-creating account: %w", err)
		}
		slog.Info("auto-created account", "login", login)
	} else if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	if err := s.accounts.TouchLastLogin(ctx, acc.ID); err != nil {
		slog.Warn("recording last login failed", "login", login, "error", err)
	}
	return s.issueToken(acc.ID)
}

func (s *Service) issueToken(accountID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify resolves a handshake token to the player id it was issued for.
func (s *Service) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/castellanhq/castellan/pkg/users"
)

var (
	// ErrInvalidCredentials is returned for an unknown username or a
	// wrong password; the two cases are deliberately indistinguishable
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrTokenExpired is returned when a presented token is past its expiry
	ErrTokenExpired = errors.New("token expired")
)

// Manager handles login, password hashing and token validation
type Manager struct {
	users      *users.Store
	tokens     *TokenStore
	generator  *TokenGenerator
	tokenTTL   time.Duration
	bcryptCost int
}

// NewManager creates an auth manager. bcryptCost <= 0 selects the
// bcrypt default.
func NewManager(userStore *users.Store, tokenStore *TokenStore, tokenTTL time.Duration, bcryptCost int) *Manager {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Manager{
		users:      userStore,
		tokens:     tokenStore,
		generator:  NewTokenGenerator(),
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
	}
}

// HashPassword hashes a plaintext password for storage
func (m *Manager) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies the credentials and issues a fresh API token. The
// plaintext token is returned exactly once.
func (m *Manager) Login(ctx context.Context, username, password string) (*users.User, string, error) {
	user, err := m.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, tokenHash, tokenPrefix, err := m.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	record := &APIToken{
		UserID:      user.ID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		ExpiresAt:   time.Now().Add(m.tokenTTL),
	}
	if err := m.tokens.CreateToken(ctx, record); err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// ValidateToken resolves a presented token to its user ID
func (m *Manager) ValidateToken(ctx context.Context, token string) (int64, error) {
	if err := m.generator.ValidateTokenFormat(token); err != nil {
		return 0, fmt.Errorf("invalid token format: %w", err)
	}

	record, err := m.tokens.GetTokenByHash(ctx, m.generator.HashToken(token))
	if err != nil {
		return 0, err
	}

	if time.Now().After(record.ExpiresAt) {
		return 0, ErrTokenExpired
	}

	// Best effort; a failed touch does not fail the request
	_ = m.tokens.TouchToken(ctx, record.ID)

	return record.UserID, nil
}

// Logout revokes a presented token
func (m *Manager) Logout(ctx context.Context, token string) error {
	if err := m.generator.ValidateTokenFormat(token); err != nil {
		return fmt.Errorf("invalid token format: %w", err)
	}

	record, err := m.tokens.GetTokenByHash(ctx, m.generator.HashToken(token))
	if err != nil {
		return err
	}
	return m.tokens.DeleteToken(ctx, record.ID)
}

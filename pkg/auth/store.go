package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// APIToken is the stored record of an issued token. The plaintext
// token is returned once at login and never persisted.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"` // Never expose the hash
	TokenPrefix string     `json:"token_prefix"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// ErrTokenNotFound is returned when no stored token matches
var ErrTokenNotFound = errors.New("token not found")

// TokenStore handles API token persistence
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a new token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// CreateToken stores a new token record
func (s *TokenStore) CreateToken(ctx context.Context, token *APIToken) error {
	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		token.UserID, token.TokenHash, token.TokenPrefix, token.ExpiresAt, now,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	token.CreatedAt = now
	return nil
}

// GetTokenByHash looks a token up by its hash
func (s *TokenStore) GetTokenByHash(ctx context.Context, tokenHash string) (*APIToken, error) {
	query := `
		SELECT id, user_id, token_hash, token_prefix, expires_at, created_at, last_used_at
		FROM api_tokens
		WHERE token_hash = $1
	`

	var token APIToken
	var lastUsedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.TokenPrefix,
		&token.ExpiresAt,
		&token.CreatedAt,
		&lastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}
	return &token, nil
}

// TouchToken updates a token's last-used timestamp
func (s *TokenStore) TouchToken(ctx context.Context, tokenID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET last_used_at = $1 WHERE id = $2", time.Now(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// DeleteToken removes a token record
func (s *TokenStore) DeleteToken(ctx context.Context, tokenID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_tokens WHERE id = $1", tokenID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteExpiredTokens removes tokens past their expiry and returns the
// number removed. Used by the retention sweeper.
func (s *TokenStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_tokens WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted tokens: %w", err)
	}
	return affected, nil
}

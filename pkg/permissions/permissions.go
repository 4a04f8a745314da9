// Package permissions manages the permission catalog: the named
// capabilities that grants attach to users and hierarchy nodes.
package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Permission is a named capability in the catalog
type Permission struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	// ErrPermissionNotFound is returned when a referenced permission does not exist
	ErrPermissionNotFound = errors.New("permission not found")

	// ErrDuplicateCode is returned when a permission code is already taken
	ErrDuplicateCode = errors.New("permission code already exists")
)

// Store handles permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new permission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreatePermission creates a new permission
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	query := `
		INSERT INTO permissions (code, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, perm.Code, perm.Description, now, now).Scan(&perm.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}

	perm.CreatedAt = now
	perm.UpdatedAt = now
	return nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, permID int64) (*Permission, error) {
	query := `
		SELECT id, code, description, created_at, updated_at
		FROM permissions
		WHERE id = $1
	`

	var perm Permission
	err := s.db.QueryRowContext(ctx, query, permID).Scan(
		&perm.ID,
		&perm.Code,
		&perm.Description,
		&perm.CreatedAt,
		&perm.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &perm, nil
}

// GetPermissionByCode retrieves a permission by its code
func (s *Store) GetPermissionByCode(ctx context.Context, code string) (*Permission, error) {
	query := `
		SELECT id, code, description, created_at, updated_at
		FROM permissions
		WHERE code = $1
	`

	var perm Permission
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&perm.ID,
		&perm.Code,
		&perm.Description,
		&perm.CreatedAt,
		&perm.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission by code: %w", err)
	}
	return &perm, nil
}

// ListPermissions retrieves all permissions
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	query := `
		SELECT id, code, description, created_at, updated_at
		FROM permissions
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.Description, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &perm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return perms, nil
}

// UpdatePermission updates a permission's code and description
func (s *Store) UpdatePermission(ctx context.Context, perm *Permission) error {
	query := `
		UPDATE permissions
		SET code = $1, description = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, perm.Code, perm.Description, time.Now(), perm.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to update permission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// DeletePermission deletes a permission. Grants referencing it are
// removed by the database cascade.
func (s *Store) DeletePermission(ctx context.Context, permID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM permissions WHERE id = $1", permID)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint
// violation from either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// SQLite reports constraint violations in the error text
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

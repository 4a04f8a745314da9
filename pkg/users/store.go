package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store handles user persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = "id, first_name, last_name, blood_type, username, password_hash, hierarchy_node_id, created_at, updated_at"

// CreateUser creates a new user. PasswordHash must already be hashed
// by the caller.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (first_name, last_name, blood_type, username, password_hash, hierarchy_node_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		user.FirstName,
		user.LastName,
		user.BloodType,
		user.Username,
		user.PasswordHash,
		user.HierarchyNodeID,
		now,
		now,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	return s.scanOne(s.db.QueryRowContext(ctx, query, userID))
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE username = $1"
	return s.scanOne(s.db.QueryRowContext(ctx, query, username))
}

// ListUsers retrieves all users
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	query := "SELECT " + userColumns + " FROM users ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ListUsersByNode retrieves the users directly assigned to a hierarchy
// node. An absent node yields an empty result.
func (s *Store) ListUsersByNode(ctx context.Context, nodeID int64) ([]*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE hierarchy_node_id = $1 ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by node: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// UpdateUser updates a user's profile fields and node assignment.
// The password hash is only replaced when set on the passed user.
func (s *Store) UpdateUser(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET first_name = $1, last_name = $2, blood_type = $3, username = $4,
			hierarchy_node_id = $5, updated_at = $6
		WHERE id = $7
	`
	args := []interface{}{
		user.FirstName, user.LastName, user.BloodType, user.Username,
		user.HierarchyNodeID, time.Now(), user.ID,
	}

	if user.PasswordHash != "" {
		query = `
			UPDATE users
			SET first_name = $1, last_name = $2, blood_type = $3, username = $4,
				hierarchy_node_id = $5, updated_at = $6, password_hash = $7
			WHERE id = $8
		`
		args = []interface{}{
			user.FirstName, user.LastName, user.BloodType, user.Username,
			user.HierarchyNodeID, time.Now(), user.PasswordHash, user.ID,
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser deletes a user. The user's grants, notifications and API
// tokens are removed by the database cascade.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) scanOne(row *sql.Row) (*User, error) {
	var user User
	var bloodType sql.NullString
	var nodeID sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&bloodType,
		&user.Username,
		&user.PasswordHash,
		&nodeID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.BloodType = bloodType.String
	if nodeID.Valid {
		user.HierarchyNodeID = &nodeID.Int64
	}
	return &user, nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var result []*User
	for rows.Next() {
		var user User
		var bloodType sql.NullString
		var nodeID sql.NullInt64

		err := rows.Scan(
			&user.ID,
			&user.FirstName,
			&user.LastName,
			&bloodType,
			&user.Username,
			&user.PasswordHash,
			&nodeID,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		user.BloodType = bloodType.String
		if nodeID.Valid {
			user.HierarchyNodeID = &nodeID.Int64
		}
		result = append(result, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

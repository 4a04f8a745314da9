package grants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/castellanhq/castellan/pkg/permissions"
)

// Store handles grant persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new grant store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGrant creates a new grant. The referenced permission must
// exist and exactly one target must be set.
func (s *Store) CreateGrant(ctx context.Context, grant *Grant) error {
	if _, _, err := grant.Target(); err != nil {
		return err
	}
	if err := s.checkPermissionExists(ctx, grant.PermissionID); err != nil {
		return err
	}

	query := `
		INSERT INTO grants (permission_id, user_id, hierarchy_node_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		grant.PermissionID, grant.UserID, grant.HierarchyNodeID, now,
	).Scan(&grant.ID)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}

	grant.AssignedAt = now
	return nil
}

// GetGrant retrieves a grant by ID
func (s *Store) GetGrant(ctx context.Context, grantID int64) (*Grant, error) {
	query := `
		SELECT id, permission_id, user_id, hierarchy_node_id, assigned_at
		FROM grants
		WHERE id = $1
	`
	return scanGrant(s.db.QueryRowContext(ctx, query, grantID))
}

// ListGrants retrieves all grants
func (s *Store) ListGrants(ctx context.Context) ([]*Grant, error) {
	query := `
		SELECT id, permission_id, user_id, hierarchy_node_id, assigned_at
		FROM grants
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var result []*Grant
	for rows.Next() {
		var g Grant
		var userID, nodeID sql.NullInt64

		if err := rows.Scan(&g.ID, &g.PermissionID, &userID, &nodeID, &g.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		if userID.Valid {
			g.UserID = &userID.Int64
		}
		if nodeID.Valid {
			g.HierarchyNodeID = &nodeID.Int64
		}
		result = append(result, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return result, nil
}

// UpdateGrant replaces the permission and target of an existing grant.
// Identity and assignment timestamp are immutable.
func (s *Store) UpdateGrant(ctx context.Context, grant *Grant) error {
	if _, _, err := grant.Target(); err != nil {
		return err
	}
	if err := s.checkPermissionExists(ctx, grant.PermissionID); err != nil {
		return err
	}

	query := `
		UPDATE grants
		SET permission_id = $1, user_id = $2, hierarchy_node_id = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		grant.PermissionID, grant.UserID, grant.HierarchyNodeID, grant.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// DeleteGrant removes a grant. Past notifications produced by the
// grant's fan-out are untouched.
func (s *Store) DeleteGrant(ctx context.Context, grantID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM grants WHERE id = $1", grantID)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// PermissionsForUser returns the permissions granted directly to a
// user. Grants on the user's hierarchy node or its ancestors do not
// count; only notification fan-out traverses the tree.
func (s *Store) PermissionsForUser(ctx context.Context, userID int64) ([]*permissions.Permission, error) {
	query := `
		SELECT p.id, p.code, p.description, p.created_at, p.updated_at
		FROM grants g
		JOIN permissions p ON p.id = g.permission_id
		WHERE g.user_id = $1
		ORDER BY p.id
	`
	return s.queryPermissions(ctx, query, userID)
}

// PermissionsForNode returns the permissions granted directly to a
// hierarchy node, without traversing the tree in either direction.
func (s *Store) PermissionsForNode(ctx context.Context, nodeID int64) ([]*permissions.Permission, error) {
	query := `
		SELECT p.id, p.code, p.description, p.created_at, p.updated_at
		FROM grants g
		JOIN permissions p ON p.id = g.permission_id
		WHERE g.hierarchy_node_id = $1
		ORDER BY p.id
	`
	return s.queryPermissions(ctx, query, nodeID)
}

func (s *Store) queryPermissions(ctx context.Context, query string, id int64) ([]*permissions.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	defer rows.Close()

	var result []*permissions.Permission
	for rows.Next() {
		var p permissions.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		result = append(result, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return result, nil
}

func (s *Store) checkPermissionExists(ctx context.Context, permID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM permissions WHERE id = $1)", permID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if !exists {
		return permissions.ErrPermissionNotFound
	}
	return nil
}

func scanGrant(row *sql.Row) (*Grant, error) {
	var g Grant
	var userID, nodeID sql.NullInt64

	err := row.Scan(&g.ID, &g.PermissionID, &userID, &nodeID, &g.AssignedAt)
	if err == sql.ErrNoRows {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	if userID.Valid {
		g.UserID = &userID.Int64
	}
	if nodeID.Valid {
		g.HierarchyNodeID = &nodeID.Int64
	}
	return &g, nil
}

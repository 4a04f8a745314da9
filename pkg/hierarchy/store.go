package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles hierarchy node persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new hierarchy store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateNode creates a new hierarchy node. If a parent is set it must exist.
func (s *Store) CreateNode(ctx context.Context, node *Node) error {
	if node.ParentID != nil {
		if _, err := s.GetNode(ctx, *node.ParentID); err != nil {
			return fmt.Errorf("invalid parent: %w", err)
		}
	}

	query := `
		INSERT INTO hierarchy_nodes (name, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, node.Name, node.ParentID, now, now).Scan(&node.ID)
	if err != nil {
		return fmt.Errorf("failed to create hierarchy node: %w", err)
	}

	node.CreatedAt = now
	node.UpdatedAt = now
	return nil
}

// GetNode retrieves a node by ID
func (s *Store) GetNode(ctx context.Context, nodeID int64) (*Node, error) {
	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM hierarchy_nodes
		WHERE id = $1
	`

	var node Node
	var parentID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(
		&node.ID,
		&node.Name,
		&parentID,
		&node.CreatedAt,
		&node.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hierarchy node: %w", err)
	}

	if parentID.Valid {
		node.ParentID = &parentID.Int64
	}
	return &node, nil
}

// ListNodes retrieves all hierarchy nodes
func (s *Store) ListNodes(ctx context.Context) ([]*Node, error) {
	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM hierarchy_nodes
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// UpdateNode updates a node's name and parent
func (s *Store) UpdateNode(ctx context.Context, node *Node) error {
	if node.ParentID != nil {
		if *node.ParentID == node.ID {
			return fmt.Errorf("node cannot be its own parent")
		}
		if _, err := s.GetNode(ctx, *node.ParentID); err != nil {
			return fmt.Errorf("invalid parent: %w", err)
		}
	}

	query := `
		UPDATE hierarchy_nodes
		SET name = $1, parent_id = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, node.Name, node.ParentID, time.Now(), node.ID)
	if err != nil {
		return fmt.Errorf("failed to update hierarchy node: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// DeleteNode deletes a node. Deletion is rejected while the node still
// has child nodes or users assigned to it.
func (s *Store) DeleteNode(ctx context.Context, nodeID int64) error {
	var childCount int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hierarchy_nodes WHERE parent_id = $1", nodeID,
	).Scan(&childCount)
	if err != nil {
		return fmt.Errorf("failed to count child nodes: %w", err)
	}
	if childCount > 0 {
		return ErrHasChildren
	}

	var userCount int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE hierarchy_node_id = $1", nodeID,
	).Scan(&userCount)
	if err != nil {
		return fmt.Errorf("failed to count assigned users: %w", err)
	}
	if userCount > 0 {
		return ErrHasUsers
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM hierarchy_nodes WHERE id = $1", nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete hierarchy node: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// Children retrieves the direct children of a node. An absent node
// yields an empty result, not an error.
func (s *Store) Children(ctx context.Context, nodeID int64) ([]*Node, error) {
	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM hierarchy_nodes
		WHERE parent_id = $1
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// Descendants retrieves all nodes transitively under nodeID, excluding
// nodeID itself. Traversal is breadth-first with a visited set; a
// revisited node means the parent pointers form a cycle and the
// traversal fails with ErrCycleDetected rather than looping.
func (s *Store) Descendants(ctx context.Context, nodeID int64) ([]*Node, error) {
	visited := map[int64]bool{nodeID: true}
	queue := []int64{nodeID}
	var result []*Node

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := s.Children(ctx, current)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			if visited[child.ID] {
				return nil, fmt.Errorf("node %d revisited during traversal: %w", child.ID, ErrCycleDetected)
			}
			visited[child.ID] = true
			result = append(result, child)
			queue = append(queue, child.ID)
		}
	}

	return result, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var nodes []*Node
	for rows.Next() {
		var node Node
		var parentID sql.NullInt64

		if err := rows.Scan(&node.ID, &node.Name, &parentID, &node.CreatedAt, &node.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy node: %w", err)
		}
		if parentID.Valid {
			node.ParentID = &parentID.Int64
		}
		nodes = append(nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hierarchy nodes: %w", err)
	}
	return nodes, nil
}

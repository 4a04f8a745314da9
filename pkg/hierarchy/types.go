package hierarchy

import (
	"errors"
	"time"
)

// Node represents a node in the organizational hierarchy. ParentID is
// nil for root nodes.
type Node struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNodeNotFound is returned when a referenced node does not exist
	ErrNodeNotFound = errors.New("hierarchy node not found")

	// ErrHasChildren is returned when deleting a node that still has children
	ErrHasChildren = errors.New("hierarchy node has child nodes")

	// ErrHasUsers is returned when deleting a node that still has users assigned
	ErrHasUsers = errors.New("hierarchy node has users assigned")

	// ErrCycleDetected is returned when a traversal revisits a node.
	// Parent pointers are not provably acyclic at write time, so
	// traversals guard against unbounded recursion.
	ErrCycleDetected = errors.New("hierarchy cycle detected")
)

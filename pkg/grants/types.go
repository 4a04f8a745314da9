package grants

import (
	"errors"
	"time"
)

// TargetKind discriminates what a grant attaches a permission to
type TargetKind string

const (
	// TargetUser marks a grant attached directly to one user
	TargetUser TargetKind = "user"
	// TargetNode marks a grant attached to a hierarchy node
	TargetNode TargetKind = "node"
)

// Grant attaches a permission to exactly one target: either a user or
// a hierarchy node. Exactly one of UserID and HierarchyNodeID is set.
type Grant struct {
	ID              int64     `json:"id"`
	PermissionID    int64     `json:"permission_id"`
	UserID          *int64    `json:"user_id,omitempty"`
	HierarchyNodeID *int64    `json:"hierarchy_node_id,omitempty"`
	AssignedAt      time.Time `json:"assigned_at"`
}

var (
	// ErrGrantNotFound is returned when a referenced grant does not exist
	ErrGrantNotFound = errors.New("grant not found")

	// ErrInvalidTarget is returned when a grant does not have exactly
	// one of user and hierarchy node set
	ErrInvalidTarget = errors.New("grant must target exactly one of user or hierarchy node")
)

// Target returns the grant's target kind and id, or ErrInvalidTarget
// when the tagged union is malformed.
func (g *Grant) Target() (TargetKind, int64, error) {
	switch {
	case g.UserID != nil && g.HierarchyNodeID == nil:
		return TargetUser, *g.UserID, nil
	case g.UserID == nil && g.HierarchyNodeID != nil:
		return TargetNode, *g.HierarchyNodeID, nil
	default:
		return "", 0, ErrInvalidTarget
	}
}

package users

import (
	"errors"
	"time"
)

// User represents an account that can hold grants and receive
// notifications. HierarchyNodeID places the user in the organizational
// tree and is nil for unassigned users.
type User struct {
	ID              int64     `json:"id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	BloodType       string    `json:"blood_type,omitempty"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"-"` // Never expose the hash
	HierarchyNodeID *int64    `json:"hierarchy_node_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

var (
	// ErrUserNotFound is returned when a referenced user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUsername is returned when a username is already taken
	ErrDuplicateUsername = errors.New("username already exists")
)

package notifications

import (
	"errors"
	"time"
)

// Notification is one durable log row for one recipient. OriginNodeID
// records which hierarchy node's fan-out produced it and is nil for
// direct user notifications.
type Notification struct {
	ID           int64     `json:"id"`
	Message      string    `json:"message"`
	IsRead       bool      `json:"is_read"`
	UserID       int64     `json:"user_id"`
	OriginNodeID *int64    `json:"origin_node_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrNotificationNotFound is returned when a referenced notification does not exist
var ErrNotificationNotFound = errors.New("notification not found")

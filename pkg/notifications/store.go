package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles notification persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new notification store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const notificationColumns = "id, message, is_read, user_id, origin_node_id, created_at"

// Append writes a new unread notification for a user. originNodeID is
// nil for direct user notifications.
func (s *Store) Append(ctx context.Context, userID int64, message string, originNodeID *int64) (*Notification, error) {
	query := `
		INSERT INTO notifications (message, is_read, user_id, origin_node_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	n := &Notification{
		Message:      message,
		IsRead:       false,
		UserID:       userID,
		OriginNodeID: originNodeID,
		CreatedAt:    time.Now(),
	}

	err := s.db.QueryRowContext(ctx, query, n.Message, n.IsRead, n.UserID, n.OriginNodeID, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append notification: %w", err)
	}
	return n, nil
}

// Get retrieves a notification by ID
func (s *Store) Get(ctx context.Context, id int64) (*Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE id = $1"

	var n Notification
	var originNodeID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.Message, &n.IsRead, &n.UserID, &originNodeID, &n.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	if originNodeID.Valid {
		n.OriginNodeID = &originNodeID.Int64
	}
	return &n, nil
}

// ListAll retrieves all notifications, newest first
func (s *Store) ListAll(ctx context.Context) ([]*Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// ListByUser retrieves a user's notifications, newest first, optionally
// restricted to unread ones.
func (s *Store) ListByUser(ctx context.Context, userID int64, onlyUnread bool) ([]*Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE user_id = $1"
	if onlyUnread {
		query += " AND is_read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// Delete removes a notification
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkRead flips a notification to read. Marking an already-read
// notification succeeds and reports true; an absent id reports false.
func (s *Store) MarkRead(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	if !exists {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $1", id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return true, nil
}

// MarkAllRead flips every unread notification for a user to read and
// returns the count flipped.
func (s *Store) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE", userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count flipped notifications: %w", err)
	}
	return affected, nil
}

// PurgeRead deletes read notifications created before the cutoff and
// returns the number removed. Used by the retention sweeper.
func (s *Store) PurgeRead(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1", olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged notifications: %w", err)
	}
	return affected, nil
}

func scanNotifications(rows *sql.Rows) ([]*Notification, error) {
	var result []*Notification
	for rows.Next() {
		var n Notification
		var originNodeID sql.NullInt64

		if err := rows.Scan(&n.ID, &n.Message, &n.IsRead, &n.UserID, &originNodeID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if originNodeID.Valid {
			n.OriginNodeID = &originNodeID.Int64
		}
		result = append(result, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return result, nil
}

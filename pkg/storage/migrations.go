package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/castellanhq/castellan/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create hierarchy_nodes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hierarchy_nodes (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					parent_id BIGINT REFERENCES hierarchy_nodes(id) ON DELETE RESTRICT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_hierarchy_nodes_parent_id ON hierarchy_nodes(parent_id);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					first_name VARCHAR(255) NOT NULL,
					last_name VARCHAR(255) NOT NULL,
					blood_type VARCHAR(8),
					username VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					hierarchy_node_id BIGINT REFERENCES hierarchy_nodes(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_hierarchy_node_id ON users(hierarchy_node_id);
				CREATE INDEX idx_users_username ON users(username);
			`,
		},
		{
			Version:     3,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     4,
			Description: "Create grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS grants (
					id BIGSERIAL PRIMARY KEY,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
					hierarchy_node_id BIGINT REFERENCES hierarchy_nodes(id) ON DELETE CASCADE,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (
						(user_id IS NOT NULL AND hierarchy_node_id IS NULL)
						OR (user_id IS NULL AND hierarchy_node_id IS NOT NULL)
					)
				);

				CREATE INDEX idx_grants_permission_id ON grants(permission_id);
				CREATE INDEX idx_grants_user_id ON grants(user_id);
				CREATE INDEX idx_grants_hierarchy_node_id ON grants(hierarchy_node_id);
			`,
		},
		{
			Version:     5,
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id BIGSERIAL PRIMARY KEY,
					message TEXT NOT NULL,
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					origin_node_id BIGINT REFERENCES hierarchy_nodes(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_notifications_user_id ON notifications(user_id);
				CREATE INDEX idx_notifications_is_read ON notifications(is_read);
				CREATE INDEX idx_notifications_created_at ON notifications(created_at);
			`,
		},
		{
			Version:     6,
			Description: "Create api_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_used_at TIMESTAMP
				);

				CREATE INDEX idx_api_tokens_user_id ON api_tokens(user_id);
				CREATE INDEX idx_api_tokens_expires_at ON api_tokens(expires_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Package storage opens database connections and manages schema
// migrations. Production deployments run PostgreSQL; SQLite is
// supported for local development and tests.
package storage

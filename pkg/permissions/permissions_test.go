package permissions

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func TestCreateAndGetPermission(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := &Permission{Code: "reports.view", Description: "View operational reports"}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if perm.ID == 0 {
		t.Fatal("expected permission ID to be set")
	}

	got, err := store.GetPermission(ctx, perm.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code != "reports.view" {
		t.Errorf("expected code reports.view, got %s", got.Code)
	}
	if got.Description != "View operational reports" {
		t.Errorf("unexpected description: %s", got.Description)
	}
}

func TestCreatePermissionDuplicateCode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := &Permission{Code: "reports.view", Description: "View reports"}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := &Permission{Code: "reports.view", Description: "Another"}
	if err := store.CreatePermission(ctx, dup); !errors.Is(err, ErrDuplicateCode) {
		t.Errorf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestGetPermissionByCode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := &Permission{Code: "users.manage", Description: "Manage users"}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetPermissionByCode(ctx, "users.manage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != perm.ID {
		t.Errorf("expected ID %d, got %d", perm.ID, got.ID)
	}

	if _, err := store.GetPermissionByCode(ctx, "missing"); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("expected ErrPermissionNotFound, got %v", err)
	}
}

func TestListPermissions(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for _, code := range []string{"a.read", "b.write", "c.admin"} {
		if err := store.CreatePermission(ctx, &Permission{Code: code, Description: code}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	perms, err := store.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(perms) != 3 {
		t.Errorf("expected 3 permissions, got %d", len(perms))
	}
}

func TestUpdatePermission(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := &Permission{Code: "reports.view", Description: "View reports"}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	perm.Description = "View and export reports"
	if err := store.UpdatePermission(ctx, perm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetPermission(ctx, perm.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Description != "View and export reports" {
		t.Errorf("unexpected description: %s", got.Description)
	}
}

func TestUpdatePermissionNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	perm := &Permission{ID: 999, Code: "ghost", Description: "ghost"}
	if err := store.UpdatePermission(context.Background(), perm); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("expected ErrPermissionNotFound, got %v", err)
	}
}

func TestDeletePermission(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	perm := &Permission{Code: "temp", Description: "Temporary"}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.DeletePermission(ctx, perm.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetPermission(ctx, perm.ID); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("expected permission to be gone, got %v", err)
	}

	if err := store.DeletePermission(ctx, perm.ID); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("expected ErrPermissionNotFound on second delete, got %v", err)
	}
}

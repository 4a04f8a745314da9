package grants

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/castellanhq/castellan/pkg/permissions"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE hierarchy_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_id INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			blood_type TEXT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			hierarchy_node_id INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			permission_id INTEGER NOT NULL,
			user_id INTEGER,
			hierarchy_node_id INTEGER,
			assigned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			user_id INTEGER NOT NULL,
			origin_node_id INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func insertPermission(t *testing.T, db *sql.DB, code, description string) int64 {
	t.Helper()
	result, err := db.Exec(
		"INSERT INTO permissions (code, description) VALUES (?, ?)", code, description,
	)
	if err != nil {
		t.Fatalf("Failed to insert permission: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}

func insertUser(t *testing.T, db *sql.DB, username string, nodeID *int64) int64 {
	t.Helper()
	result, err := db.Exec(
		"INSERT INTO users (first_name, last_name, username, password_hash, hierarchy_node_id) VALUES (?, ?, ?, ?, ?)",
		"Test", "User", username, "hash", nodeID,
	)
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}

func insertNode(t *testing.T, db *sql.DB, name string, parentID *int64) int64 {
	t.Helper()
	result, err := db.Exec(
		"INSERT INTO hierarchy_nodes (name, parent_id) VALUES (?, ?)", name, parentID,
	)
	if err != nil {
		t.Fatalf("Failed to insert node: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}

func TestCreateGrantUserTarget(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	permID := insertPermission(t, db, "reports.view", "View reports")
	userID := insertUser(t, db, "jdoe", nil)

	grant := &Grant{PermissionID: permID, UserID: &userID}
	if err := store.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.ID == 0 {
		t.Fatal("expected grant ID to be set")
	}
	if grant.AssignedAt.IsZero() {
		t.Error("expected assignment timestamp to be set")
	}

	got, err := store.GetGrant(ctx, grant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kind, targetID, err := got.Target()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != TargetUser || targetID != userID {
		t.Errorf("expected user target %d, got %s %d", userID, kind, targetID)
	}
}

func TestCreateGrantValidation(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	permID := insertPermission(t, db, "reports.view", "View reports")
	userID := insertUser(t, db, "jdoe", nil)
	nodeID := insertNode(t, db, "Ops", nil)

	tests := []struct {
		name    string
		grant   *Grant
		wantErr error
	}{
		{
			name:    "no target",
			grant:   &Grant{PermissionID: permID},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "both targets",
			grant:   &Grant{PermissionID: permID, UserID: &userID, HierarchyNodeID: &nodeID},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "missing permission",
			grant:   &Grant{PermissionID: 999, UserID: &userID},
			wantErr: permissions.ErrPermissionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.CreateGrant(ctx, tt.grant)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpdateGrantKeepsIdentity(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	permA := insertPermission(t, db, "a", "A")
	permB := insertPermission(t, db, "b", "B")
	userID := insertUser(t, db, "jdoe", nil)
	nodeID := insertNode(t, db, "Ops", nil)

	grant := &Grant{PermissionID: permA, UserID: &userID}
	if err := store.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Retarget the grant from the user to the node with a new permission.
	grant.PermissionID = permB
	grant.UserID = nil
	grant.HierarchyNodeID = &nodeID
	if err := store.UpdateGrant(ctx, grant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetGrant(ctx, grant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PermissionID != permB {
		t.Errorf("expected permission %d, got %d", permB, got.PermissionID)
	}
	kind, targetID, _ := got.Target()
	if kind != TargetNode || targetID != nodeID {
		t.Errorf("expected node target %d, got %s %d", nodeID, kind, targetID)
	}
}

func TestUpdateGrantNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	permID := insertPermission(t, db, "a", "A")
	userID := insertUser(t, db, "jdoe", nil)

	grant := &Grant{ID: 999, PermissionID: permID, UserID: &userID}
	if err := store.UpdateGrant(context.Background(), grant); !errors.Is(err, ErrGrantNotFound) {
		t.Errorf("expected ErrGrantNotFound, got %v", err)
	}
}

func TestDeleteGrant(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	permID := insertPermission(t, db, "a", "A")
	userID := insertUser(t, db, "jdoe", nil)

	grant := &Grant{PermissionID: permID, UserID: &userID}
	if err := store.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.DeleteGrant(ctx, grant.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteGrant(ctx, grant.ID); !errors.Is(err, ErrGrantNotFound) {
		t.Errorf("expected ErrGrantNotFound on second delete, got %v", err)
	}
}

func TestPermissionsForUserDirectOnly(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	node := insertNode(t, db, "Ops", nil)
	userID := insertUser(t, db, "jdoe", &node)

	direct := insertPermission(t, db, "direct", "Direct grant")
	nodeOnly := insertPermission(t, db, "node-only", "Node grant")

	if err := store.CreateGrant(ctx, &Grant{PermissionID: direct, UserID: &userID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A grant on the user's node must NOT surface through the user query.
	if err := store.CreateGrant(ctx, &Grant{PermissionID: nodeOnly, HierarchyNodeID: &node}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	perms, err := store.PermissionsForUser(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(perms) != 1 || perms[0].Code != "direct" {
		t.Errorf("expected only the direct permission, got %d", len(perms))
	}

	nodePerms, err := store.PermissionsForNode(ctx, node)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodePerms) != 1 || nodePerms[0].Code != "node-only" {
		t.Errorf("expected only the node permission, got %d", len(nodePerms))
	}
}

func TestPermissionsForNodeNoTraversal(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	parent := insertNode(t, db, "Parent", nil)
	child := insertNode(t, db, "Child", &parent)

	permID := insertPermission(t, db, "parent-perm", "On parent")
	if err := store.CreateGrant(ctx, &Grant{PermissionID: permID, HierarchyNodeID: &parent}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	childPerms, err := store.PermissionsForNode(ctx, child)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(childPerms) != 0 {
		t.Errorf("permission resolution must not traverse the tree, got %d", len(childPerms))
	}
}

package hierarchy

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
		CREATE TABLE hierarchy_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_id INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			hierarchy_node_id INTEGER
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func mustCreateNode(t *testing.T, store *Store, name string, parentID *int64) *Node {
	t.Helper()
	node := &Node{Name: name, ParentID: parentID}
	if err := store.CreateNode(context.Background(), node); err != nil {
		t.Fatalf("Failed to create node %s: %v", name, err)
	}
	return node
}

func TestCreateAndGetNode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	root := mustCreateNode(t, store, "Headquarters", nil)
	if root.ID == 0 {
		t.Fatal("expected node ID to be set")
	}

	child := mustCreateNode(t, store, "Operations", &root.ID)

	got, err := store.GetNode(ctx, child.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Operations" {
		t.Errorf("expected name Operations, got %s", got.Name)
	}
	if got.ParentID == nil || *got.ParentID != root.ID {
		t.Errorf("expected parent %d, got %v", root.ID, got.ParentID)
	}
}

func TestCreateNodeInvalidParent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	missing := int64(999)
	node := &Node{Name: "Orphan", ParentID: &missing}
	err := store.CreateNode(context.Background(), node)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	_, err := store.GetNode(context.Background(), 42)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestUpdateNode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	root := mustCreateNode(t, store, "Headquarters", nil)
	node := mustCreateNode(t, store, "Ops", nil)

	node.Name = "Operations"
	node.ParentID = &root.ID
	if err := store.UpdateNode(ctx, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Operations" {
		t.Errorf("expected updated name, got %s", got.Name)
	}
	if got.ParentID == nil || *got.ParentID != root.ID {
		t.Errorf("expected parent %d, got %v", root.ID, got.ParentID)
	}
}

func TestUpdateNodeSelfParent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	node := mustCreateNode(t, store, "Solo", nil)
	node.ParentID = &node.ID
	if err := store.UpdateNode(context.Background(), node); err == nil {
		t.Error("expected error for self-parent")
	}
}

func TestDeleteNode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	node := mustCreateNode(t, store, "Temporary", nil)
	if err := store.DeleteNode(ctx, node.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.GetNode(ctx, node.ID); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected node to be gone, got %v", err)
	}
}

func TestDeleteNodeWithChildren(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	root := mustCreateNode(t, store, "Headquarters", nil)
	mustCreateNode(t, store, "Operations", &root.ID)

	err := store.DeleteNode(context.Background(), root.ID)
	if !errors.Is(err, ErrHasChildren) {
		t.Errorf("expected ErrHasChildren, got %v", err)
	}
}

func TestDeleteNodeWithUsers(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	node := mustCreateNode(t, store, "Operations", nil)
	if _, err := db.Exec(
		"INSERT INTO users (username, hierarchy_node_id) VALUES (?, ?)", "jdoe", node.ID,
	); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}

	err := store.DeleteNode(context.Background(), node.ID)
	if !errors.Is(err, ErrHasUsers) {
		t.Errorf("expected ErrHasUsers, got %v", err)
	}
}

func TestChildren(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	root := mustCreateNode(t, store, "Headquarters", nil)
	a := mustCreateNode(t, store, "Operations", &root.ID)
	b := mustCreateNode(t, store, "Logistics", &root.ID)
	mustCreateNode(t, store, "Night Shift", &a.ID)

	children, err := store.Children(ctx, root.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].ID != a.ID || children[1].ID != b.ID {
		t.Errorf("unexpected children: %d, %d", children[0].ID, children[1].ID)
	}
}

func TestChildrenAbsentNode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	children, err := store.Children(context.Background(), 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected no children for absent node, got %d", len(children))
	}
}

func TestDescendants(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	// root -> a -> c, root -> b
	root := mustCreateNode(t, store, "Headquarters", nil)
	a := mustCreateNode(t, store, "Operations", &root.ID)
	b := mustCreateNode(t, store, "Logistics", &root.ID)
	c := mustCreateNode(t, store, "Night Shift", &a.ID)

	descendants, err := store.Descendants(ctx, root.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := make(map[int64]bool)
	for _, n := range descendants {
		got[n.ID] = true
	}
	for _, want := range []int64{a.ID, b.ID, c.ID} {
		if !got[want] {
			t.Errorf("expected node %d in descendants", want)
		}
	}
	if got[root.ID] {
		t.Error("descendants must not include the root itself")
	}
	if len(descendants) != 3 {
		t.Errorf("expected 3 descendants, got %d", len(descendants))
	}
}

func TestDescendantsAbsentNode(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	descendants, err := store.Descendants(context.Background(), 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(descendants) != 0 {
		t.Errorf("expected empty result for absent node, got %d", len(descendants))
	}
}

func TestDescendantsCycle(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	a := mustCreateNode(t, store, "A", nil)
	b := mustCreateNode(t, store, "B", &a.ID)

	// Force a cycle directly: A's parent becomes B.
	if _, err := db.Exec("UPDATE hierarchy_nodes SET parent_id = ? WHERE id = ?", b.ID, a.ID); err != nil {
		t.Fatalf("failed to force cycle: %v", err)
	}

	_, err := store.Descendants(ctx, a.ID)
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

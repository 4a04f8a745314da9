package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/castellanhq/castellan/pkg/auth"
	"github.com/castellanhq/castellan/pkg/grants"
	"github.com/castellanhq/castellan/pkg/hierarchy"
	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/permissions"
	"github.com/castellanhq/castellan/pkg/users"
)

const testSchema = `
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

	CREATE TABLE api_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		token_prefix TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used_at TIMESTAMP
	);
`

type testEnv struct {
	server  *Server
	db      *sql.DB
	manager *auth.Manager
	users   *users.Store
	tree    *hierarchy.Store
	perms   *permissions.Store
	notifs  *notifications.Store
	admin   *users.User
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	userStore := users.NewStore(db)
	manager := auth.NewManager(userStore, auth.NewTokenStore(db), time.Hour, bcrypt.MinCost)
	permStore := permissions.NewStore(db)
	treeStore := hierarchy.NewStore(db)
	notifStore := notifications.NewStore(db)
	dispatcher := notifications.NewDispatcher(notifStore, userStore, treeStore, nil, nil, logger)
	grantStore := grants.NewStore(db)
	grantService := grants.NewService(grantStore, permStore, dispatcher, grants.NewChecker(db, time.Minute), nil, logger)

	server := NewServer(Deps{
		Auth:          manager,
		Users:         userStore,
		Permissions:   permStore,
		Hierarchy:     treeStore,
		Grants:        grantStore,
		GrantService:  grantService,
		Notifications: notifStore,
		Dispatcher:    dispatcher,
		Logger:        logger,
	})

	env := &testEnv{
		server:  server,
		db:      db,
		manager: manager,
		users:   userStore,
		tree:    treeStore,
		perms:   permStore,
		notifs:  notifStore,
	}
	env.admin = env.createUser(t, "admin", "admin-secret", nil)
	_, token, err := manager.Login(context.Background(), "admin", "admin-secret")
	require.NoError(t, err)
	env.token = token
	return env
}

func (e *testEnv) createUser(t *testing.T, username, password string, nodeID *int64) *users.User {
	t.Helper()
	hash, err := e.manager.HashPassword(password)
	require.NoError(t, err)
	user := &users.User{
		FirstName:       "Test",
		LastName:        "User",
		Username:        username,
		PasswordHash:    hash,
		HierarchyNodeID: nodeID,
	}
	require.NoError(t, e.users.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) createNode(t *testing.T, name string, parentID *int64) *hierarchy.Node {
	t.Helper()
	node := &hierarchy.Node{Name: name, ParentID: parentID}
	require.NoError(t, e.tree.CreateNode(context.Background(), node))
	return node
}

func (e *testEnv) createPermission(t *testing.T, code, description string) *permissions.Permission {
	t.Helper()
	perm := &permissions.Permission{Code: code, Description: description}
	require.NoError(t, e.perms.CreatePermission(context.Background(), perm))
	return perm
}

// request performs an authenticated request against the server
func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/auth/login",
		bytes.NewReader([]byte(`{"username":"admin","password":"admin-secret"}`)))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	decodeJSON(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, "admin", resp.User.Username)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/auth/login",
		bytes.NewReader([]byte(`{"username":"admin","password":"wrong"}`)))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/auth/login",
		bytes.NewReader([]byte(`{"username":"admin"}`)))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRejectBadToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer cast_notarealtoken")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRouteIsPublic(t *testing.T) {
	env := newTestEnv(t)

	// No Authorization header at all
	req := httptest.NewRequest("POST", "/api/v1/auth/login",
		bytes.NewReader([]byte(`{"username":"admin","password":"admin-secret"}`)))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/auth"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/users"
)

// UserHandlers handles user management HTTP requests
type UserHandlers struct {
	store   *users.Store
	manager *auth.Manager
}

// NewUserHandlers creates a new UserHandlers
func NewUserHandlers(store *users.Store, manager *auth.Manager) *UserHandlers {
	return &UserHandlers{store: store, manager: manager}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.UpdateUser).Methods("PUT")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
}

type userRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	BloodType       string `json:"blood_type"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	HierarchyNodeID *int64 `json:"hierarchy_node_id"`
}

// CreateUser creates a new user. The password arrives in plaintext and
// only its bcrypt hash is stored.
func (h *UserHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" {
		httputil.WriteBadRequest(w, "username is required")
		return
	}
	if req.Password == "" {
		httputil.WriteBadRequest(w, "password is required")
		return
	}

	hash, err := h.manager.HashPassword(req.Password)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	user := &users.User{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		BloodType:       req.BloodType,
		Username:        req.Username,
		PasswordHash:    hash,
		HierarchyNodeID: req.HierarchyNodeID,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, users.ErrDuplicateUsername) {
			httputil.WriteConflict(w, "username already exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, user)
}

// ListUsers lists all users, optionally filtered to one hierarchy node
// via the node_id query parameter.
func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("node_id") != "" {
		nodeID, err := httputil.ParseQueryInt(r, "node_id", 0)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid node_id parameter")
			return
		}
		list, err := h.store.ListUsersByNode(r.Context(), int64(nodeID))
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		httputil.WriteSuccess(w, list)
		return
	}

	list, err := h.store.ListUsers(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetUser retrieves a single user by ID
func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateUser updates a user. An empty password leaves the stored hash
// untouched.
func (h *UserHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req userRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" {
		httputil.WriteBadRequest(w, "username is required")
		return
	}

	user := &users.User{
		ID:              userID,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		BloodType:       req.BloodType,
		Username:        req.Username,
		HierarchyNodeID: req.HierarchyNodeID,
	}
	if req.Password != "" {
		hash, err := h.manager.HashPassword(req.Password)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		user.PasswordHash = hash
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, users.ErrUserNotFound):
			httputil.WriteNotFoundError(w, "user not found")
		case errors.Is(err, users.ErrDuplicateUsername):
			httputil.WriteConflict(w, "username already exists")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteSuccess(w, user)
}

// DeleteUser deletes a user
func (h *UserHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

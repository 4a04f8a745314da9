package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/permissions"
)

// PermissionHandlers handles permission catalog HTTP requests
type PermissionHandlers struct {
	store *permissions.Store
}

// NewPermissionHandlers creates a new PermissionHandlers
func NewPermissionHandlers(store *permissions.Store) *PermissionHandlers {
	return &PermissionHandlers{store: store}
}

// RegisterRoutes registers permission routes
func (h *PermissionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/permissions/{id}", h.GetPermission).Methods("GET")
	router.HandleFunc("/permissions/{id}", h.UpdatePermission).Methods("PUT")
	router.HandleFunc("/permissions/{id}", h.DeletePermission).Methods("DELETE")
}

type permissionRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CreatePermission adds a permission to the catalog
func (h *PermissionHandlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}

	perm := &permissions.Permission{Code: req.Code, Description: req.Description}
	if err := h.store.CreatePermission(r.Context(), perm); err != nil {
		if errors.Is(err, permissions.ErrDuplicateCode) {
			httputil.WriteConflict(w, "permission code already exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

// ListPermissions lists the whole catalog
func (h *PermissionHandlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetPermission retrieves a single permission by ID
func (h *PermissionHandlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perm, err := h.store.GetPermission(r.Context(), permID)
	if err != nil {
		if errors.Is(err, permissions.ErrPermissionNotFound) {
			httputil.WriteNotFoundError(w, "permission not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, perm)
}

// UpdatePermission updates a permission's code and description
func (h *PermissionHandlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req permissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}

	perm := &permissions.Permission{ID: permID, Code: req.Code, Description: req.Description}
	if err := h.store.UpdatePermission(r.Context(), perm); err != nil {
		switch {
		case errors.Is(err, permissions.ErrPermissionNotFound):
			httputil.WriteNotFoundError(w, "permission not found")
		case errors.Is(err, permissions.ErrDuplicateCode):
			httputil.WriteConflict(w, "permission code already exists")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteSuccess(w, perm)
}

// DeletePermission removes a permission. Grants referencing it are
// removed by the database cascade.
func (h *PermissionHandlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeletePermission(r.Context(), permID); err != nil {
		if errors.Is(err, permissions.ErrPermissionNotFound) {
			httputil.WriteNotFoundError(w, "permission not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

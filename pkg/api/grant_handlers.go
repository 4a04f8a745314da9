package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/grants"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/permissions"
)

// GrantHandlers handles permission grant HTTP requests. Writes go
// through the service so cache invalidation and grant notifications
// fire; reads hit the store directly.
type GrantHandlers struct {
	store   *grants.Store
	service *grants.Service
}

// NewGrantHandlers creates a new GrantHandlers
func NewGrantHandlers(store *grants.Store, service *grants.Service) *GrantHandlers {
	return &GrantHandlers{store: store, service: service}
}

// RegisterRoutes registers grant routes
func (h *GrantHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/grants", h.CreateGrant).Methods("POST")
	router.HandleFunc("/grants", h.ListGrants).Methods("GET")
	router.HandleFunc("/grants/user/{userId}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/grants/hierarchy/{nodeId}/permissions", h.GetNodePermissions).Methods("GET")
	router.HandleFunc("/grants/{id}", h.GetGrant).Methods("GET")
	router.HandleFunc("/grants/{id}", h.UpdateGrant).Methods("PUT")
	router.HandleFunc("/grants/{id}", h.DeleteGrant).Methods("DELETE")
}

type grantRequest struct {
	PermissionID    int64  `json:"permission_id"`
	UserID          *int64 `json:"user_id"`
	HierarchyNodeID *int64 `json:"hierarchy_node_id"`
}

func (h *GrantHandlers) writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grants.ErrGrantNotFound):
		httputil.WriteNotFoundError(w, "grant not found")
	case errors.Is(err, grants.ErrInvalidTarget):
		httputil.WriteBadRequest(w, "grant must target exactly one of user_id and hierarchy_node_id")
	case errors.Is(err, permissions.ErrPermissionNotFound):
		httputil.WriteBadRequest(w, "permission does not exist")
	default:
		httputil.WriteInternalError(w, err)
	}
}

// CreateGrant assigns a permission to a user or a hierarchy node and
// notifies the target. The grant survives a failed notification, so
// that failure is reported without undoing the assignment.
func (h *GrantHandlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grant := &grants.Grant{
		PermissionID:    req.PermissionID,
		UserID:          req.UserID,
		HierarchyNodeID: req.HierarchyNodeID,
	}
	if err := h.service.Create(r.Context(), grant); err != nil {
		if grant.ID != 0 {
			// Persisted but the notification fan-out failed
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.writeGrantError(w, err)
		return
	}
	httputil.WriteCreated(w, grant)
}

// ListGrants lists all grants
func (h *GrantHandlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListGrants(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetGrant retrieves a single grant by ID
func (h *GrantHandlers) GetGrant(w http.ResponseWriter, r *http.Request) {
	grantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	grant, err := h.store.GetGrant(r.Context(), grantID)
	if err != nil {
		h.writeGrantError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// UpdateGrant retargets a grant. Updates do not re-notify.
func (h *GrantHandlers) UpdateGrant(w http.ResponseWriter, r *http.Request) {
	grantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grant := &grants.Grant{
		ID:              grantID,
		PermissionID:    req.PermissionID,
		UserID:          req.UserID,
		HierarchyNodeID: req.HierarchyNodeID,
	}
	if err := h.service.Update(r.Context(), grant); err != nil {
		h.writeGrantError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// DeleteGrant revokes a grant. Notifications already produced by the
// grant stay in the log.
func (h *GrantHandlers) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	grantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), grantID); err != nil {
		h.writeGrantError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions lists the permissions granted directly to a user
func (h *GrantHandlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	perms, err := h.store.PermissionsForUser(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// GetNodePermissions lists the permissions granted directly to a
// hierarchy node. Ancestor grants are not inherited.
func (h *GrantHandlers) GetNodePermissions(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "nodeId")
	if !ok {
		return
	}

	perms, err := h.store.PermissionsForNode(r.Context(), nodeID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

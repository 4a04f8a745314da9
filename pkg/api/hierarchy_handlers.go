package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/hierarchy"
	"github.com/castellanhq/castellan/pkg/httputil"
)

// HierarchyHandlers handles organizational tree HTTP requests
type HierarchyHandlers struct {
	store *hierarchy.Store
}

// NewHierarchyHandlers creates a new HierarchyHandlers
func NewHierarchyHandlers(store *hierarchy.Store) *HierarchyHandlers {
	return &HierarchyHandlers{store: store}
}

// RegisterRoutes registers hierarchy routes
func (h *HierarchyHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/hierarchy", h.CreateNode).Methods("POST")
	router.HandleFunc("/hierarchy", h.ListNodes).Methods("GET")
	router.HandleFunc("/hierarchy/{id}", h.GetNode).Methods("GET")
	router.HandleFunc("/hierarchy/{id}", h.UpdateNode).Methods("PUT")
	router.HandleFunc("/hierarchy/{id}", h.DeleteNode).Methods("DELETE")
	router.HandleFunc("/hierarchy/{id}/children", h.GetChildren).Methods("GET")
	router.HandleFunc("/hierarchy/{id}/descendants", h.GetDescendants).Methods("GET")
}

type nodeRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

// CreateNode adds a node to the tree. A nil parent creates a root.
func (h *HierarchyHandlers) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	node := &hierarchy.Node{Name: req.Name, ParentID: req.ParentID}
	if err := h.store.CreateNode(r.Context(), node); err != nil {
		if errors.Is(err, hierarchy.ErrNodeNotFound) {
			httputil.WriteBadRequest(w, "parent node does not exist")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, node)
}

// ListNodes lists every node in the tree
func (h *HierarchyHandlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListNodes(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetNode retrieves a single node by ID
func (h *HierarchyHandlers) GetNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		if errors.Is(err, hierarchy.ErrNodeNotFound) {
			httputil.WriteNotFoundError(w, "hierarchy node not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// UpdateNode renames or reparents a node
func (h *HierarchyHandlers) UpdateNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req nodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	node := &hierarchy.Node{ID: nodeID, Name: req.Name, ParentID: req.ParentID}
	if err := h.store.UpdateNode(r.Context(), node); err != nil {
		if errors.Is(err, hierarchy.ErrNodeNotFound) {
			// The store wraps a missing parent as "invalid parent";
			// a bare not-found means the node itself is absent.
			if strings.Contains(err.Error(), "invalid parent") {
				httputil.WriteBadRequest(w, "parent node does not exist")
				return
			}
			httputil.WriteNotFoundError(w, "hierarchy node not found")
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, node)
}

// DeleteNode removes a leaf node with no assigned users
func (h *HierarchyHandlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteNode(r.Context(), nodeID); err != nil {
		switch {
		case errors.Is(err, hierarchy.ErrNodeNotFound):
			httputil.WriteNotFoundError(w, "hierarchy node not found")
		case errors.Is(err, hierarchy.ErrHasChildren):
			httputil.WriteConflict(w, "node still has child nodes")
		case errors.Is(err, hierarchy.ErrHasUsers):
			httputil.WriteConflict(w, "node still has users assigned")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteNoContent(w)
}

// GetChildren lists the direct children of a node
func (h *HierarchyHandlers) GetChildren(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	children, err := h.store.Children(r.Context(), nodeID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, children)
}

// GetDescendants lists the full subtree below a node, breadth-first
func (h *HierarchyHandlers) GetDescendants(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	descendants, err := h.store.Descendants(r.Context(), nodeID)
	if err != nil {
		if errors.Is(err, hierarchy.ErrCycleDetected) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "hierarchy contains a cycle")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, descendants)
}

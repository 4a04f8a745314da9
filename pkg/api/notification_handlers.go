package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/hierarchy"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/users"
)

// NotificationHandlers handles notification log HTTP requests.
// Creation via the notify-* endpoints goes through the dispatcher so
// live pushes fire; the plain POST only writes the log row.
type NotificationHandlers struct {
	store      *notifications.Store
	dispatcher *notifications.Dispatcher
	users      *users.Store
}

// NewNotificationHandlers creates a new NotificationHandlers
func NewNotificationHandlers(store *notifications.Store, dispatcher *notifications.Dispatcher, userStore *users.Store) *NotificationHandlers {
	return &NotificationHandlers{store: store, dispatcher: dispatcher, users: userStore}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.CreateNotification).Methods("POST")
	router.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	router.HandleFunc("/notifications/notify-user/{userId}", h.NotifyUser).Methods("POST")
	router.HandleFunc("/notifications/notify-hierarchy/{nodeId}", h.NotifyHierarchy).Methods("POST")
	router.HandleFunc("/notifications/user/{userId}", h.ListUserNotifications).Methods("GET")
	router.HandleFunc("/notifications/user/{userId}/mark-all-read", h.MarkAllRead).Methods("PATCH")
	router.HandleFunc("/notifications/{id}", h.GetNotification).Methods("GET")
	router.HandleFunc("/notifications/{id}", h.DeleteNotification).Methods("DELETE")
	router.HandleFunc("/notifications/{id}/mark-read", h.MarkRead).Methods("PATCH")
}

type notificationRequest struct {
	UserID       int64  `json:"user_id"`
	Message      string `json:"message"`
	OriginNodeID *int64 `json:"origin_node_id"`
}

type messageRequest struct {
	Message string `json:"message"`
}

// CreateNotification appends a log row without attempting a live push
func (h *NotificationHandlers) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	if req.Message == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}
	if _, err := h.users.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			httputil.WriteBadRequest(w, "user does not exist")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	n, err := h.store.Append(r.Context(), req.UserID, req.Message, req.OriginNodeID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, n)
}

// ListNotifications lists the whole notification log, newest first
func (h *NotificationHandlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListAll(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// ListUserNotifications lists one user's notifications, newest first.
// ?unread=true narrows the result to unread rows.
func (h *NotificationHandlers) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	onlyUnread := httputil.ParseQueryBool(r, "unread", false)

	list, err := h.store.ListByUser(r.Context(), userID, onlyUnread)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetNotification retrieves a single notification by ID
func (h *NotificationHandlers) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	n, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, notifications.ErrNotificationNotFound) {
			httputil.WriteNotFoundError(w, "notification not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, n)
}

// DeleteNotification removes a notification from the log
func (h *NotificationHandlers) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, notifications.ErrNotificationNotFound) {
			httputil.WriteNotFoundError(w, "notification not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// NotifyUser logs a notification for one user and pushes it live
func (h *NotificationHandlers) NotifyUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var req messageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Message == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}
	if _, err := h.users.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	n, err := h.dispatcher.NotifyUser(r.Context(), userID, req.Message)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, n)
}

type fanoutResponse struct {
	Recipients int `json:"recipients"`
}

// NotifyHierarchy fans a notification out to every user in the subtree
// rooted at the node. An absent node reaches zero recipients.
func (h *NotificationHandlers) NotifyHierarchy(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathInt64OrError(w, r, "nodeId")
	if !ok {
		return
	}

	var req messageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Message == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}

	recipients, err := h.dispatcher.NotifyHierarchy(r.Context(), nodeID, req.Message)
	if err != nil {
		if errors.Is(err, hierarchy.ErrCycleDetected) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "hierarchy contains a cycle")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, fanoutResponse{Recipients: recipients})
}

type markReadResponse struct {
	Read bool `json:"read"`
}

// MarkRead marks one notification as read. Marking an already-read
// notification succeeds without change.
func (h *NotificationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	found, err := h.store.MarkRead(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !found {
		httputil.WriteNotFoundError(w, "notification not found")
		return
	}
	httputil.WriteSuccess(w, markReadResponse{Read: true})
}

type markAllReadResponse struct {
	Count int64 `json:"count"`
}

// MarkAllRead marks every unread notification for a user as read and
// reports how many rows flipped
func (h *NotificationHandlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	count, err := h.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, markAllReadResponse{Count: count})
}

package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/auth"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/users"
)

// AuthHandlers handles authentication HTTP requests
type AuthHandlers struct {
	manager *auth.Manager
}

// NewAuthHandlers creates a new AuthHandlers
func NewAuthHandlers(manager *auth.Manager) *AuthHandlers {
	return &AuthHandlers{manager: manager}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.Login).Methods("POST")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *users.User `json:"user"`
}

// Login exchanges username/password credentials for an API token
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	user, token, err := h.manager.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w, "invalid username or password")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, loginResponse{Token: token, User: user})
}

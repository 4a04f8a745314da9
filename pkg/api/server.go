package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/castellanhq/castellan/pkg/auth"
	"github.com/castellanhq/castellan/pkg/grants"
	"github.com/castellanhq/castellan/pkg/hierarchy"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/middleware"
	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/permissions"
	"github.com/castellanhq/castellan/pkg/push"
	"github.com/castellanhq/castellan/pkg/users"
)

// Deps carries everything the server routes need. Hub, Metrics and
// AllowedOrigins are optional.
type Deps struct {
	Auth           *auth.Manager
	Users          *users.Store
	Permissions    *permissions.Store
	Hierarchy      *hierarchy.Store
	Grants         *grants.Store
	GrantService   *grants.Service
	Notifications  *notifications.Store
	Dispatcher     *notifications.Dispatcher
	Hub            *push.Hub
	Metrics        *observability.Metrics
	Logger         *observability.Logger
	AllowedOrigins []string
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	deps    Deps
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates a new API server with all routes configured
func NewServer(deps Deps) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes. Login is the only
// unauthenticated endpoint; everything else sits behind token auth.
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	if s.logger != nil {
		s.router.Use(httputil.LoggingMiddleware(s.logger))
		s.router.Use(httputil.RecoveryMiddleware(s.logger))
	}
	s.router.Use(httputil.CORSMiddleware(s.deps.AllowedOrigins))
	if s.metrics != nil {
		s.router.Use(s.instrument)
	}

	authHandlers := NewAuthHandlers(s.deps.Auth)
	public := s.router.PathPrefix("/api/v1/auth").Subrouter()
	authHandlers.RegisterRoutes(public)

	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.Auth(s.deps.Auth, s.logger))

	NewUserHandlers(s.deps.Users, s.deps.Auth).RegisterRoutes(protected)
	NewPermissionHandlers(s.deps.Permissions).RegisterRoutes(protected)
	NewHierarchyHandlers(s.deps.Hierarchy).RegisterRoutes(protected)
	NewGrantHandlers(s.deps.Grants, s.deps.GrantService).RegisterRoutes(protected)
	NewNotificationHandlers(s.deps.Notifications, s.deps.Dispatcher, s.deps.Users).RegisterRoutes(protected)

	if s.deps.Hub != nil {
		ws := s.router.PathPrefix("/ws").Subrouter()
		ws.Use(middleware.Auth(s.deps.Auth, s.logger))
		ws.HandleFunc("/notifications", s.deps.Hub.HandleWS).Methods("GET")
	}
}

// instrument records request metrics under the mux route template so
// path parameters do not explode the label space.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		s.metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
	})
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

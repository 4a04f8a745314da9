// Package api exposes the HTTP surface: REST endpoints for users,
// permissions, hierarchy nodes, grants and notifications, plus the
// authentication endpoint and the WebSocket push endpoint.
package api

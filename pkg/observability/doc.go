// Package observability provides structured logging, Prometheus metrics,
// health probes, and graceful shutdown for the castellan service.
//
// Logging uses a slog-backed Logger with contextual fields; request ID
// and the authenticated user ID are carried through context.Context and
// attached via FromContext. Metrics cover the HTTP surface plus the
// domain-specific counters: fan-outs, notification rows written, and
// live push deliveries.
//
// Health endpoints follow the live/ready split: liveness is
// unconditional, readiness checks the database and (when configured)
// the redis push bridge. Redis failures degrade readiness instead of
// failing it, since live push is best-effort.
package observability

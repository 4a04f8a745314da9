// Package push delivers notifications to connected clients over
// websockets. Delivery is best-effort: a recipient with no open
// connection is a silent no-op, and the durable notification log is
// the source of truth. An optional Redis pub/sub bridge forwards
// pushes across API instances.
package push

package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/castellanhq/castellan/pkg/hierarchy"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/users"
)

// Pusher delivers a notification over the live channel. Delivery is
// best-effort: a recipient with no open connection is a silent no-op.
type Pusher interface {
	Push(ctx context.Context, userID int64, n *Notification) error
}

// Dispatcher fans notifications out to users and hierarchy subtrees.
// Every recipient gets a durable log row first and a live push attempt
// second; push failures never fail the dispatch.
type Dispatcher struct {
	store   *Store
	users   *users.Store
	tree    *hierarchy.Store
	push    Pusher
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewDispatcher creates a new dispatcher. push may be nil when no live
// channel is configured; metrics may be nil.
func NewDispatcher(store *Store, userStore *users.Store, tree *hierarchy.Store, push Pusher, metrics *observability.Metrics, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		users:   userStore,
		tree:    tree,
		push:    push,
		metrics: metrics,
		logger:  logger,
	}
}

// NotifyUser logs one notification for the user and then attempts a
// live push. The log write happens first; a failed push does not roll
// it back and is not surfaced to the caller.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID int64, message string) (*Notification, error) {
	n, err := d.store.Append(ctx, userID, message, nil)
	if err != nil {
		if d.metrics != nil {
			d.metrics.FanoutsTotal.WithLabelValues("user", "error").Inc()
		}
		return nil, fmt.Errorf("failed to log notification: %w", err)
	}

	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues("direct").Inc()
		d.metrics.FanoutsTotal.WithLabelValues("user", "ok").Inc()
	}

	d.attemptPush(ctx, n)
	return n, nil
}

// NotifyHierarchy notifies every user in the subtree rooted at nodeID:
// first the users attached to each node, then recursively each child.
// Each notification records the node the recipient is attached to as
// its origin. Traversal is breadth-first with a visited set; a revisit
// means the parent pointers form a cycle and the fan-out stops with
// hierarchy.ErrCycleDetected. Already-written rows are not rolled back.
// Returns the number of recipients reached.
func (d *Dispatcher) NotifyHierarchy(ctx context.Context, nodeID int64, message string) (int, error) {
	start := time.Now()
	recipients, err := d.fanout(ctx, nodeID, message)

	if d.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		d.metrics.FanoutsTotal.WithLabelValues("node", outcome).Inc()
		d.metrics.FanoutDuration.Observe(time.Since(start).Seconds())
		d.metrics.FanoutRecipients.Observe(float64(recipients))
	}

	return recipients, err
}

func (d *Dispatcher) fanout(ctx context.Context, rootID int64, message string) (int, error) {
	visited := map[int64]bool{rootID: true}
	queue := []int64{rootID}
	recipients := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		origin := current

		nodeUsers, err := d.users.ListUsersByNode(ctx, current)
		if err != nil {
			return recipients, fmt.Errorf("failed to resolve recipients for node %d: %w", current, err)
		}

		for _, user := range nodeUsers {
			n, err := d.store.Append(ctx, user.ID, message, &origin)
			if err != nil {
				return recipients, fmt.Errorf("failed to log notification for user %d: %w", user.ID, err)
			}
			if d.metrics != nil {
				d.metrics.NotificationsTotal.WithLabelValues("node").Inc()
			}
			recipients++
			d.attemptPush(ctx, n)
		}

		children, err := d.tree.Children(ctx, current)
		if err != nil {
			return recipients, fmt.Errorf("failed to list children of node %d: %w", current, err)
		}
		for _, child := range children {
			if visited[child.ID] {
				return recipients, fmt.Errorf("node %d revisited during fan-out: %w", child.ID, hierarchy.ErrCycleDetected)
			}
			visited[child.ID] = true
			queue = append(queue, child.ID)
		}
	}

	return recipients, nil
}

// attemptPush delivers n over the live channel, swallowing any failure
func (d *Dispatcher) attemptPush(ctx context.Context, n *Notification) {
	if d.push == nil {
		return
	}

	if err := d.push.Push(ctx, n.UserID, n); err != nil {
		if d.metrics != nil {
			d.metrics.PushDeliveriesTotal.WithLabelValues("failed").Inc()
		}
		if d.logger != nil {
			d.logger.WithError(err).WithField("user_id", n.UserID).Warn("Live push failed; notification remains in the log")
		}
		return
	}

	if d.metrics != nil {
		d.metrics.PushDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
}

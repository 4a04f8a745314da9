package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/permissions"
)

// Service wraps the grant store and triggers the notification fan-out
// that every grant creation produces.
type Service struct {
	store       *Store
	permissions *permissions.Store
	dispatcher  *notifications.Dispatcher
	checker     *Checker
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewService creates a grant service. checker and metrics may be nil.
func NewService(store *Store, permStore *permissions.Store, dispatcher *notifications.Dispatcher, checker *Checker, metrics *observability.Metrics, logger *observability.Logger) *Service {
	return &Service{
		store:       store,
		permissions: permStore,
		dispatcher:  dispatcher,
		checker:     checker,
		metrics:     metrics,
		logger:      logger,
	}
}

// Create persists the grant and notifies its target: a user target
// gets one direct notification, a node target fans out to every user
// in the subtree. The grant is durable before the fan-out starts; a
// fan-out failure is returned but does not roll the grant back.
func (s *Service) Create(ctx context.Context, grant *Grant) error {
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return err
	}

	kind, targetID, err := grant.Target()
	if err != nil {
		// CreateGrant already validated the target
		return err
	}

	if s.metrics != nil {
		s.metrics.GrantsCreatedTotal.WithLabelValues(string(kind)).Inc()
	}
	s.invalidate(kind, targetID)

	message := s.grantMessage(ctx, grant.PermissionID)

	switch kind {
	case TargetUser:
		if _, err := s.dispatcher.NotifyUser(ctx, targetID, message); err != nil {
			return fmt.Errorf("grant %d created but notification failed: %w", grant.ID, err)
		}
	case TargetNode:
		if _, err := s.dispatcher.NotifyHierarchy(ctx, targetID, message); err != nil {
			return fmt.Errorf("grant %d created but fan-out failed: %w", grant.ID, err)
		}
	}

	return nil
}

// Update replaces the permission and target of an existing grant.
// Updates do not re-trigger notification fan-out.
func (s *Service) Update(ctx context.Context, grant *Grant) error {
	previous, err := s.store.GetGrant(ctx, grant.ID)
	if err != nil {
		return err
	}

	if err := s.store.UpdateGrant(ctx, grant); err != nil {
		return err
	}

	if kind, targetID, err := previous.Target(); err == nil {
		s.invalidate(kind, targetID)
	}
	if kind, targetID, err := grant.Target(); err == nil {
		s.invalidate(kind, targetID)
	}
	return nil
}

// Delete removes a grant and drops any cached permission decisions for
// its target.
func (s *Service) Delete(ctx context.Context, grantID int64) error {
	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteGrant(ctx, grantID); err != nil {
		return err
	}

	if kind, targetID, err := grant.Target(); err == nil {
		s.invalidate(kind, targetID)
	}
	return nil
}

// grantMessage builds the notification text for a new grant. A missing
// permission yields an empty description, not a failure.
func (s *Service) grantMessage(ctx context.Context, permissionID int64) string {
	description := ""
	perm, err := s.permissions.GetPermission(ctx, permissionID)
	if err == nil {
		description = perm.Description
	} else if !errors.Is(err, permissions.ErrPermissionNotFound) && s.logger != nil {
		s.logger.WithError(err).WithField("permission_id", permissionID).Warn("Failed to resolve permission for grant message")
	}

	return fmt.Sprintf("You have been granted the permission '%s'.", description)
}

func (s *Service) invalidate(kind TargetKind, targetID int64) {
	if s.checker == nil {
		return
	}
	switch kind {
	case TargetUser:
		s.checker.InvalidateUser(targetID)
	case TargetNode:
		s.checker.InvalidateNode(targetID)
	}
}

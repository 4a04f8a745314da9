package grants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const checkerCacheSize = 4096

// Checker answers "does this target directly hold this permission"
// with a small expiring decision cache in front of the grant store.
// Only direct grants count; the hierarchy is never traversed here.
type Checker struct {
	db       *sql.DB
	cache    *lru.LRU[string, bool]
	cacheTTL time.Duration
}

// NewChecker creates a permission checker. A zero cacheTTL disables
// caching.
func NewChecker(db *sql.DB, cacheTTL time.Duration) *Checker {
	c := &Checker{
		db:       db,
		cacheTTL: cacheTTL,
	}
	if cacheTTL > 0 {
		c.cache = lru.NewLRU[string, bool](checkerCacheSize, nil, cacheTTL)
	}
	return c
}

// UserHasPermission reports whether the user directly holds a grant
// for the permission code.
func (c *Checker) UserHasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	key := fmt.Sprintf("user:%d:%s", userID, code)
	if c.cache != nil {
		if allowed, ok := c.cache.Get(key); ok {
			return allowed, nil
		}
	}

	query := `
		SELECT EXISTS(
			SELECT 1
			FROM grants g
			JOIN permissions p ON p.id = g.permission_id
			WHERE g.user_id = $1 AND p.code = $2
		)
	`

	var allowed bool
	if err := c.db.QueryRowContext(ctx, query, userID, code).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check user permission: %w", err)
	}

	if c.cache != nil {
		c.cache.Add(key, allowed)
	}
	return allowed, nil
}

// NodeHasPermission reports whether the hierarchy node directly holds
// a grant for the permission code.
func (c *Checker) NodeHasPermission(ctx context.Context, nodeID int64, code string) (bool, error) {
	key := fmt.Sprintf("node:%d:%s", nodeID, code)
	if c.cache != nil {
		if allowed, ok := c.cache.Get(key); ok {
			return allowed, nil
		}
	}

	query := `
		SELECT EXISTS(
			SELECT 1
			FROM grants g
			JOIN permissions p ON p.id = g.permission_id
			WHERE g.hierarchy_node_id = $1 AND p.code = $2
		)
	`

	var allowed bool
	if err := c.db.QueryRowContext(ctx, query, nodeID, code).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check node permission: %w", err)
	}

	if c.cache != nil {
		c.cache.Add(key, allowed)
	}
	return allowed, nil
}

// InvalidateUser drops cached decisions for a user
func (c *Checker) InvalidateUser(userID int64) {
	c.invalidatePrefix(fmt.Sprintf("user:%d:", userID))
}

// InvalidateNode drops cached decisions for a node
func (c *Checker) InvalidateNode(nodeID int64) {
	c.invalidatePrefix(fmt.Sprintf("node:%d:", nodeID))
}

func (c *Checker) invalidatePrefix(prefix string) {
	if c.cache == nil {
		return
	}
	for _, key := range c.cache.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.cache.Remove(key)
		}
	}
}

package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
)

// pushChannel is the Redis pub/sub channel carrying push envelopes
const pushChannel = "castellan:push"

// envelope is the wire format on the pub/sub channel. Instance tags
// let a subscriber skip messages it published itself, since those were
// already delivered locally.
type envelope struct {
	Instance     string                      `json:"instance"`
	UserID       int64                       `json:"user_id"`
	Notification *notifications.Notification `json:"notification"`
}

// Bridge forwards pushes across API instances through Redis pub/sub.
// It wraps a local Hub: Push delivers to local connections first, then
// publishes for the other instances. Publishing is best-effort; a
// Redis outage degrades cross-instance delivery without failing any
// dispatch.
type Bridge struct {
	client   *redis.Client
	hub      *Hub
	instance string
	logger   *observability.Logger
}

// BridgeConfig holds Redis connection settings for the bridge
type BridgeConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// NewBridge connects to Redis and wraps hub with cross-instance
// forwarding.
func NewBridge(cfg BridgeConfig, hub *Hub, logger *observability.Logger) (*Bridge, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Bridge{
		client:   client,
		hub:      hub,
		instance: uuid.New().String(),
		logger:   logger,
	}, nil
}

// Push delivers locally and publishes the notification for other
// instances. A failed publish is logged and swallowed.
func (b *Bridge) Push(ctx context.Context, userID int64, n *notifications.Notification) error {
	if err := b.hub.Push(ctx, userID, n); err != nil {
		return err
	}

	data, err := json.Marshal(envelope{
		Instance:     b.instance,
		UserID:       userID,
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("failed to encode push envelope: %w", err)
	}

	if err := b.client.Publish(ctx, pushChannel, data).Err(); err != nil {
		b.logger.WithError(err).Warn("Failed to publish push envelope; cross-instance delivery skipped")
	}
	return nil
}

// Run subscribes to the push channel and delivers foreign envelopes to
// local connections until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, pushChannel)
	defer sub.Close()

	// Force the subscription before consuming
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to push channel: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleMessage(ctx, msg.Payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) handleMessage(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.WithError(err).Warn("Dropping malformed push envelope")
		return
	}
	if env.Instance == b.instance || env.Notification == nil {
		return
	}

	if err := b.hub.Push(ctx, env.UserID, env.Notification); err != nil {
		b.logger.WithError(err).WithField("user_id", env.UserID).Warn("Failed to deliver bridged push")
	}
}

// Client exposes the underlying Redis client for health probes
func (b *Bridge) Client() *redis.Client {
	return b.client
}

// Close releases the Redis connection
func (b *Bridge) Close() error {
	return b.client.Close()
}

// Healthy reports whether Redis is reachable
func (b *Bridge) Healthy(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

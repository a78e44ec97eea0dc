// Package cache holds the redis-backed coordination primitives: detection
// run reservations and alert throttling. Both reduce to SetNX with a TTL.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/infrastructure/config"
)

// NewClient connects a redis client and verifies connectivity.
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.URL), zap.Int("db", cfg.DB))
	return client, nil
}

// RunReservations claims detection windows across engine instances.
// Implements the detection service's RunReserver.
type RunReservations struct {
	client *redis.Client
}

func NewRunReservations(client *redis.Client) *RunReservations {
	return &RunReservations{client: client}
}

// Reserve claims the run key for ttl. Returns false when another instance
// holds it.
func (r *RunReservations) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, "detection:run:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserving detection run: %w", err)
	}
	return ok, nil
}

// AlertThrottle suppresses duplicate alerts during a cooldown window.
// Implements the alerting service's Throttle.
type AlertThrottle struct {
	client *redis.Client
}

func NewAlertThrottle(client *redis.Client) *AlertThrottle {
	return &AlertThrottle{client: client}
}

// Claim takes the throttle key for ttl. Returns false when an equivalent
// alert claimed it within the cooldown.
func (t *AlertThrottle) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, "alert:throttle:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming alert throttle: %w", err)
	}
	return ok, nil
}

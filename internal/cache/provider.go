// Package cache holds short-lived lookups: the product catalog, customer ids
// and idempotency keys for balance orders.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("key not found")

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
	MemorySize            int
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider(cfg.MemorySize)
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

func CatalogKey(productID string) string {
	return fmt.Sprintf("catalog:%s", productID)
}

func CustomerKey(email string) string {
	return fmt.Sprintf("customer:%s", strings.ToLower(strings.TrimSpace(email)))
}

func IdempotencyKey(userID int64, key string) string {
	return fmt.Sprintf("idempotency:%d:%s", userID, key)
}

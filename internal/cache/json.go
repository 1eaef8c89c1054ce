package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

func GetJSON[T any](ctx context.Context, p Provider, key string) (T, error) {
	var out T
	raw, err := p.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return out, nil
}

func SetJSON(ctx context.Context, p Provider, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s for cache: %w", key, err)
	}
	return p.Set(ctx, key, string(raw), ttl)
}

// Loader is a read-through cache for one value type. Concurrent misses on the
// same key share a single load.
type Loader[T any] struct {
	provider Provider
	ttl      time.Duration
	group    singleflight.Group
}

func NewLoader[T any](provider Provider, ttl time.Duration) *Loader[T] {
	return &Loader[T]{provider: provider, ttl: ttl}
}

// Get returns the cached value for key, calling load on a miss. A cache that
// fails to read or write never fails the lookup itself.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if cached, err := GetJSON[T](ctx, l.provider, key); err == nil {
		return cached, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return value, err
		}
		_ = SetJSON(ctx, l.provider, key, value, l.ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (l *Loader[T]) Invalidate(ctx context.Context, key string) error {
	l.group.Forget(key)
	if err := l.provider.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

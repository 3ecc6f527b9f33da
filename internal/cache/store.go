package cache

import (
	"context"
	"time"
)

// Store is the key-value capability a Manager needs. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire resets the key's TTL and reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Info(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

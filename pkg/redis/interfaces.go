package redis

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist. Callers use it
// to distinguish a fresh install from a storage failure.
var ErrNotFound = errors.New("key not found")

// Client abstracts the Redis operations used by the filter agent so tests
// can substitute an in-memory implementation.
type Client interface {
	// Set sets a key to a value with an optional TTL (0 = no expiry)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get gets the value of a key; ErrNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)

	// Del deletes keys
	Del(ctx context.Context, keys ...string) error

	// HSet sets a field in a hash
	HSet(ctx context.Context, key string, field string, value interface{}) error

	// HGetAll gets all fields from a hash
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// LPush pushes values to the head of a list
	LPush(ctx context.Context, key string, values ...interface{}) error

	// LTrim trims a list to the specified range
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)

	// LRange returns a range of elements from a list
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Expire sets a TTL on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping checks the connection to Redis
	Ping(ctx context.Context) error

	// Close closes the Redis connection
	Close() error
}

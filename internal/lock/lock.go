// Package lock serializes work per key. Turns on one session run under the
// session's lock so transcript appends never interleave.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver names a Locker implementation.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

var (
	// ErrInvalidDriver is returned for an unknown driver name.
	ErrInvalidDriver = errors.New("lock: invalid driver")
	// ErrInvalidConfig is returned when a driver is missing its options.
	ErrInvalidConfig = errors.New("lock: invalid config")
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker hands out exclusive per-key locks.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Option configures a Locker.
type Option func(*options)

type options struct {
	redisClient  *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	keyPrefix    string
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithTTL bounds how long a redis lock survives a crashed holder.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithPollInterval sets how often a waiting redis locker retries.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithKeyPrefix namespaces redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// New creates a Locker for the given driver.
func New(driver Driver, opts ...Option) (Locker, error) {
	o := &options{
		ttl:          2 * time.Minute,
		pollInterval: 50 * time.Millisecond,
		keyPrefix:    "tutorhub:lock:",
	}
	for _, opt := range opts {
		opt(o)
	}

	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverRedis:
		if o.redisClient == nil || o.ttl <= 0 || o.pollInterval <= 0 {
			return nil, ErrInvalidConfig
		}
		return &redisLocker{
			client:       o.redisClient,
			ttl:          o.ttl,
			pollInterval: o.pollInterval,
			prefix:       o.keyPrefix,
		}, nil
	default:
		return nil, ErrInvalidDriver
	}
}

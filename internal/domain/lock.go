package domain

import (
	"context"
	"time"
)

// Locker grants exclusive, expiring leases on a key.
// Retraining holds one for its whole run.
type Locker interface {
	// Acquire takes the lease or fails immediately if it is held elsewhere.
	// The returned release func gives the lease back.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)

	Ping(ctx context.Context) error
	Close() error
}

// LockConfig holds configuration for lock initialization.
type LockConfig struct {
	// Type is the lock type: "memory" or "redis"
	Type string `mapstructure:"type" json:"type"`

	TTLSeconds int `mapstructure:"ttl_seconds" json:"ttlSeconds"`

	RedisAddr     string `mapstructure:"redis_addr" json:"redisAddr"`
	RedisPassword string `mapstructure:"redis_password" json:"-"`
	RedisDB       int    `mapstructure:"redis_db" json:"redisDb"`
}

// RetrainLockKey is the lock key held during retraining.
const RetrainLockKey = "kestrel:retrain"

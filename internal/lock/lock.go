// Package lock provides the exclusive lease used to serialize retraining.
package lock

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a locker based on configuration.
// "memory" serializes within one process; "redis" across replicas.
func New(cfg domain.LockConfig) (domain.Locker, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		return NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}
}

func newToken() string {
	return uuid.NewString()
}

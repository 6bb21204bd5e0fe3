// Package snapshot provides the durable key/value storage that backs cart
// snapshots. Values are opaque byte slices; callers own the encoding.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/BUIHOANGDU/nail-store/internal/platform/config"
)

// ErrNotFound is returned by Load when no value is stored under the key.
var ErrNotFound = errors.New("snapshot: not found")

// Storage persists snapshot values by key.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Open builds the backend selected by cfg.Backend.
func Open(cfg config.CartConfig) (Storage, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.CartBackendMemory:
		return NewMemory(), noop, nil
	case config.CartBackendFile:
		store, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.CartBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.TTL), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("snapshot: unsupported backend %q", cfg.Backend)
	}
}

package redis

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Cache stores the latest pipeline snapshot for operator queries and warm
// restarts. Implements model.SnapshotCache.
type Cache struct {
	cfg    Config
	client *goredis.Client
}

// NewCache connects the snapshot cache.
func NewCache(cfg Config, log zerolog.Logger) (*Cache, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Str("key", cfg.SnapshotKey).Msg("snapshot cache connected")
	return &Cache{cfg: cfg, client: client}, nil
}

// SaveSnapshotJSON overwrites the cached snapshot.
func (c *Cache) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	if err := c.client.Set(ctx, c.cfg.SnapshotKey, data, c.cfg.SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// LoadSnapshotJSON returns the cached snapshot, nil when none is stored.
func (c *Cache) LoadSnapshotJSON(ctx context.Context) ([]byte, error) {
	data, err := c.client.Get(ctx, c.cfg.SnapshotKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}

// Close closes the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

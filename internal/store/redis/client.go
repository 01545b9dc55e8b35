// Package redis adapts the live candle bus. The publisher side lands
// candles on a capped stream (simulator, recorders), the source side is
// the live CandleSource for the pipeline, and the snapshot cache backs
// operator queries and warm restarts.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config locates the bus and names the keys the core uses. Enabled=false
// drops the bus entirely; the core then tails the SQLite history instead.
type Config struct {
	Enabled  bool   `yaml:"enabled" default:"true"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	Stream      string `yaml:"stream" default:"candles:live"`
	Channel     string `yaml:"channel" default:"pub:candles:live"`
	LatestKey   string `yaml:"latest_key" default:"candles:live:latest"`
	SnapshotKey string `yaml:"snapshot_key" default:"stream:snapshot"`

	// MaxLen caps the stream at several days of minute bars; anything
	// older is served from the SQLite history instead.
	MaxLen      int64         `yaml:"max_len" default:"12000" validate:"gt=0"`
	LatestTTL   time.Duration `yaml:"latest_ttl" default:"30m" validate:"gt=0"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"24h" validate:"gt=0"`

	BreakerFailures int           `yaml:"breaker_failures" default:"5" validate:"gt=0"`
	BreakerReset    time.Duration `yaml:"breaker_reset" default:"10s" validate:"gt=0"`
	MaxBuffered     int           `yaml:"max_buffered" default:"10000" validate:"gt=0"`
}

// newClient dials the server and verifies the connection with a ping.
func newClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

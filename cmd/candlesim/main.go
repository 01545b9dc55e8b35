// cmd/candlesim feeds the candle bus from recorded history so the trading
// core can run without a live market feed. It reads minute bars out of the
// SQLite history and publishes them onto the Redis stream at a configurable
// pace: flat out for smoke tests, real time for a full dress rehearsal.
//
// Usage:
//
//	candlesim -config config.yaml -date 2024-06-11 -speed 60
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"marketflow/config"
	"marketflow/internal/logging"
	"marketflow/internal/metrics"
	"marketflow/internal/session"
	redisstore "marketflow/internal/store/redis"
	sqlitestore "marketflow/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	date := flag.String("date", "", "trading day to replay (YYYY-MM-DD)")
	from := flag.Int64("from", 0, "replay start, ms epoch (overrides -date)")
	to := flag.Int64("to", 0, "replay end, ms epoch (0 = now)")
	speed := flag.Float64("speed", 0, "pace multiplier: 0 publishes flat out, 1 replays in real time")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("candlesim: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("candlesim: %v", err)
	}

	fromMs, toMs := *from, *to
	if fromMs == 0 && *date != "" {
		day, err := time.ParseInLocation("2006-01-02", *date, session.Eastern)
		if err != nil {
			logger.Fatal().Err(err).Str("date", *date).Msg("bad -date")
		}
		fromMs = day.UnixMilli()
		toMs = day.AddDate(0, 0, 1).UnixMilli()
	}
	if toMs == 0 {
		toMs = time.Now().UnixMilli()
	}

	reader, err := sqlitestore.NewReader(cfg.SQLite.Path, logging.Component(logger, "sqlite"))
	if err != nil {
		logger.Fatal().Err(err).Msg("sqlite reader init failed")
	}
	defer reader.Close()

	pub, err := redisstore.NewPublisher(cfg.Redis, metrics.New(nil), logging.Component(logger, "redis"))
	if err != nil {
		logger.Fatal().Err(err).Msg("redis publisher init failed")
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("interrupted")
		cancel()
	}()

	ch, err := reader.Stream(ctx, fromMs, toMs)
	if err != nil {
		logger.Fatal().Err(err).Msg("history stream failed")
	}
	logger.Info().Int64("from", fromMs).Int64("to", toMs).Float64("speed", *speed).
		Str("stream", cfg.Redis.Stream).Msg("replaying history onto the bus")

	published := 0
	var prevTS int64
	start := time.Now()
	for c := range ch {
		if *speed > 0 && prevTS > 0 && c.TS > prevTS {
			gap := time.Duration(float64(c.TS-prevTS) / *speed * float64(time.Millisecond))
			select {
			case <-ctx.Done():
			case <-time.After(gap):
			}
		}
		if ctx.Err() != nil {
			break
		}
		if err := pub.Publish(ctx, c); err != nil {
			logger.Warn().Err(err).Int64("ts", c.TS).Msg("publish failed")
		}
		prevTS = c.TS
		published++
		if published%5000 == 0 {
			logger.Info().Int("published", published).Int64("through", c.TS).Msg("replay progress")
		}
	}

	if n := pub.PendingCount(); n > 0 {
		logger.Warn().Int("pending", n).Msg("unflushed candles at exit (bus was down)")
	}
	logger.Info().Int("published", published).
		Dur("took", time.Since(start).Round(time.Millisecond)).Msg("replay finished")
}

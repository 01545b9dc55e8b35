// cmd/coresvc runs the trading core: the live pipeline fed from the candle
// bus, the execution manager, the event distributor and the operator HTTP
// surface. Planning and trading replays start on demand over REST or the
// WS control protocol.
//
// Secrets come from the environment (MF_BROKER_API_KEY, MF_BROKER_TOTP_SECRET,
// MF_BROKER_CLIENT_CODE, MF_REDIS_PASSWORD); everything else from the YAML
// config named by -config.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketflow/config"
	"marketflow/internal/api"
	"marketflow/internal/core"
	"marketflow/internal/dist"
	"marketflow/internal/execution"
	"marketflow/internal/logging"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
	redisstore "marketflow/internal/store/redis"
	sqlitestore "marketflow/internal/store/sqlite"
	"marketflow/internal/ta"
	"marketflow/pkg/brokerapi"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("coresvc: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("coresvc: %v", err)
	}
	logger.Info().Str("config", *configPath).Msg("starting trading core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	// Durable history: candles in, journalled events out.
	for _, p := range []string{cfg.SQLite.Path, cfg.Execution.JournalPath} {
		if dir := filepath.Dir(p); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
	}
	writer, err := sqlitestore.New(cfg.SQLite, prom, logging.Component(logger, "sqlite"))
	if err != nil {
		logger.Fatal().Err(err).Msg("sqlite init failed")
	}
	defer writer.Close()
	reader, err := sqlitestore.NewReader(cfg.SQLite.Path, logging.Component(logger, "sqlite"))
	if err != nil {
		logger.Fatal().Err(err).Msg("sqlite reader init failed")
	}
	defer reader.Close()
	health.SetSQLiteOK(true)

	// The candle bus and the snapshot cache are both optional: without
	// redis the core tails the history another process keeps writing.
	var (
		bus   model.CandleSource
		snaps model.SnapshotCache
		rdb   *goredis.Client
	)
	if cfg.Redis.Enabled {
		src, err := redisstore.NewSource(cfg.Redis, logging.Component(logger, "redis"))
		if err != nil {
			logger.Warn().Err(err).Msg("candle bus unavailable, tailing sqlite history")
		} else {
			defer src.Close()
			bus = src
			rdb = src.Client()
			health.SetRedisConnected(true)
			cache, err := redisstore.NewCache(cfg.Redis, logging.Component(logger, "redis"))
			if err != nil {
				logger.Warn().Err(err).Msg("snapshot cache unavailable")
			} else {
				defer cache.Close()
				snaps = cache
			}
		}
	} else {
		// Not a dependency in history-tail mode; keep /healthz green.
		health.SetRedisConnected(true)
		logger.Info().Msg("redis disabled by config")
	}
	health.StartLivenessChecker(ctx, rdb, writer.DB(), 10*time.Second)

	var broker model.BrokerClient
	if cfg.Execution.Paper {
		broker = execution.NewSimBroker(cfg.Execution.SlippageBps)
		logger.Info().Int64("slippage_bps", cfg.Execution.SlippageBps).Msg("paper trading via simulated broker")
	} else {
		if err := cfg.RequireBrokerCreds(); err != nil {
			logger.Fatal().Err(err).Msg("live trading needs broker credentials")
		}
		broker = brokerapi.New(cfg.Broker, prom, logging.Component(logger, "broker"))
		logger.Info().Str("base_url", cfg.Broker.BaseURL).Msg("live trading via broker gateway")
	}

	journal, err := execution.NewJournal(cfg.Execution.JournalPath, cfg.Execution.JournalBatch,
		prom, logging.Component(logger, "journal"))
	if err != nil {
		logger.Fatal().Err(err).Msg("order journal init failed")
	}
	defer journal.Close()

	hub := dist.New(cfg.Dist, prom, logging.Component(logger, "dist"))

	svc := core.New(cfg.Core, core.Deps{
		Stream:    cfg.Stream,
		Strategy:  cfg.Strategy,
		Execution: cfg.Execution,
		TA:        ta.NewEngine(cfg.TA),
		Hub:       hub,
		History:   reader,
		Writer:    writer,
		Bus:       bus,
		Snaps:     snaps,
		Broker:    broker,
		Journal:   journal,
		Health:    health,
		Prom:      prom,
		Log:       logging.Component(logger, "core"),
	})
	hub.SetRunner(svc)
	go hub.Run(ctx)

	srv := api.New(cfg.HTTP.Addr, api.Deps{
		Control: svc,
		Hub:     hub,
		Events:  reader,
		Reports: journal,
		Health:  health,
		Metrics: promhttp.Handler(),
		Log:     logging.Component(logger, "api"),
	})
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("operator api failed")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("trading core stopped")
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
	shCancel()
	logger.Info().Msg("shutdown complete")
}

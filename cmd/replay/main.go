// cmd/replay runs one bounded pipeline pass over recorded history and prints
// every event as a JSON line on stdout. It exercises the exact analytics and
// decision code paths the live stream runs, with no broker and no
// distributor, so a day can be re-derived and diffed offline.
//
// Usage:
//
//	replay -config config.yaml -date 2024-06-11 -decide > events.jsonl
package main

import (
	"bufio"
	"context"
	"encoding/json"
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
	"marketflow/internal/model"
	"marketflow/internal/session"
	sqlitestore "marketflow/internal/store/sqlite"
	"marketflow/internal/strategy"
	"marketflow/internal/stream"
	"marketflow/internal/ta"
)

// jsonlSink writes every event as one JSON line. The pipeline publishes from
// a single goroutine, so no locking.
type jsonlSink struct {
	enc    *json.Encoder
	counts map[model.EventType]int
}

func (s *jsonlSink) Publish(ev *model.Event) {
	s.counts[ev.Type]++
	if err := s.enc.Encode(ev); err != nil {
		log.Fatalf("replay: write event: %v", err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	date := flag.String("date", "", "trading day to replay (YYYY-MM-DD)")
	from := flag.Int64("from", 0, "replay start, ms epoch (overrides -date)")
	to := flag.Int64("to", 0, "replay end, ms epoch (0 = now)")
	decide := flag.Bool("decide", false, "run the decision engine and emit planned orders")
	speed := flag.Float64("speed", 0, "pace divisor for candle gaps; 0 runs flat out")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	// Events own stdout; logs go to stderr regardless of config.
	cfg.Logging.Output = "stderr"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("replay: %v", err)
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

	phase := model.PhasePlanning
	var decider model.Decider
	if *decide {
		phase = model.PhaseTrading
		risk := strategy.NewTracker(cfg.Strategy)
		decider = strategy.NewEngine(cfg.Strategy, risk, logging.Component(logger, "strategy"))
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	sink := &jsonlSink{enc: json.NewEncoder(out), counts: make(map[model.EventType]int)}

	p := stream.New(cfg.Stream, stream.Options{Phase: phase, Speed: *speed}, stream.Deps{
		TA:      ta.NewEngine(cfg.TA),
		Sink:    sink,
		Decider: decider,
		Prom:    metrics.New(nil),
		Log:     logging.Component(logger, "stream"),
	})

	planned := 0
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range p.Planned() {
			planned++
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("interrupted")
		cancel()
	}()

	logger.Info().Int64("from", fromMs).Int64("to", toMs).
		Str("phase", string(phase)).Bool("decide", *decide).Msg("replay starting")

	start := time.Now()
	if err := p.Run(ctx, reader, fromMs, toMs); err != nil {
		logger.Fatal().Err(err).Msg("replay failed")
	}
	<-drained

	summary := logger.Info().
		Str("status", p.Status().String()).
		Dur("took", time.Since(start).Round(time.Millisecond))
	for typ, n := range sink.counts {
		summary.Int(string(typ), n)
	}
	if *decide {
		summary.Int("planned_orders", planned)
	}
	summary.Msg("replay finished")
}

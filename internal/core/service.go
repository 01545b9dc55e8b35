// Package core assembles the trading service: the live pipeline fed from
// the candle bus (with SQLite catch-up), the execution manager, the event
// distributor, durable candle/event history, and the on-demand planning and
// trading replays that the WS control protocol and the operator API start.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketflow/internal/dist"
	"marketflow/internal/execution"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/session"
	"marketflow/internal/strategy"
	"marketflow/internal/stream"
	"marketflow/internal/ta"
)

// HistorySource is the bounded/tailing candle history behind replays and
// warm-ups. *sqlite.Reader satisfies it.
type HistorySource interface {
	model.CandleSource
	Candles(fromMs, toMs int64) ([]model.Candle, error)
}

// HistoryWriter persists live candles and the journalled event stream.
// *sqlite.Writer satisfies it.
type HistoryWriter interface {
	Run(ctx context.Context, ch <-chan model.Candle)
	RunEvents(ctx context.Context, ch <-chan *model.Event)
	LastTimestamp() (int64, error)
}

// Config tunes the orchestration layer.
type Config struct {
	// SnapshotEvery is the cadence of live-state snapshots into the cache.
	SnapshotEvery time.Duration `yaml:"snapshot_every" default:"30s" validate:"gt=0"`
	// PlanDays is the default lookback for a planning replay.
	PlanDays int `yaml:"plan_days" default:"2" validate:"gt=0"`
	// WarmupTF is the resample width of the trading warm-up replay.
	WarmupTF time.Duration `yaml:"warmup_timeframe" default:"5m" validate:"gt=0"`
	// ReplaySpeed paces replays as a candle-gap divisor; 0 runs flat out.
	ReplaySpeed float64 `yaml:"replay_speed" default:"0" validate:"gte=0"`

	EventBuffer  int `yaml:"event_buffer" default:"1024" validate:"gt=0"`
	CandleBuffer int `yaml:"candle_buffer" default:"256" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		SnapshotEvery: 30 * time.Second,
		PlanDays:      2,
		WarmupTF:      5 * time.Minute,
		EventBuffer:   1024,
		CandleBuffer:  256,
	}
}

// Deps are the service's collaborators, plus the per-component configs it
// needs to spawn replay pipelines on demand. Bus, Snaps, Health and Journal
// are optional; History and Writer are not.
type Deps struct {
	Stream    stream.Config
	Strategy  strategy.Config
	Execution execution.Config

	TA      *ta.Engine
	Hub     *dist.Hub
	History HistorySource
	Writer  HistoryWriter
	Bus     model.CandleSource  // live candle bus; nil tails the history
	Snaps   model.SnapshotCache // nil skips snapshot persistence
	Broker  model.BrokerClient
	Journal *execution.Journal
	Health  *metrics.HealthStatus
	Prom    *metrics.Metrics
	Log     zerolog.Logger
}

// replay is one running non-live pipeline.
type replay struct {
	p      *stream.Pipeline
	cancel context.CancelFunc
}

// Service owns the live pipeline and hands out replay pipelines. It is the
// hub's PhaseRunner and the operator API's phase control.
type Service struct {
	cfg   Config
	scfg  stream.Config
	strat strategy.Config

	ta      *ta.Engine
	hub     *dist.Hub
	live    *stream.Pipeline
	manager *execution.Manager
	history HistorySource
	writer  HistoryWriter
	bus     model.CandleSource
	snaps   model.SnapshotCache
	health  *metrics.HealthStatus
	prom    *metrics.Metrics
	log     zerolog.Logger

	candleCh chan model.Candle
	eventCh  chan *model.Event

	mu      sync.Mutex
	ctx     context.Context // run context; nil until Run
	replays map[model.Phase]*replay

	wg sync.WaitGroup
}

// New wires the live pipeline, its decision engine and the execution
// manager. Nothing runs until Run.
func New(cfg Config, d Deps) *Service {
	def := DefaultConfig()
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = def.SnapshotEvery
	}
	if cfg.PlanDays <= 0 {
		cfg.PlanDays = def.PlanDays
	}
	if cfg.WarmupTF <= 0 {
		cfg.WarmupTF = def.WarmupTF
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.CandleBuffer <= 0 {
		cfg.CandleBuffer = def.CandleBuffer
	}
	if d.TA == nil {
		d.TA = ta.NewEngine(ta.DefaultConfig())
	}
	if d.Prom == nil {
		d.Prom = metrics.New(nil)
	}

	s := &Service{
		cfg:      cfg,
		scfg:     d.Stream,
		strat:    d.Strategy,
		ta:       d.TA,
		hub:      d.Hub,
		history:  d.History,
		writer:   d.Writer,
		bus:      d.Bus,
		snaps:    d.Snaps,
		health:   d.Health,
		prom:     d.Prom,
		log:      d.Log,
		candleCh: make(chan model.Candle, cfg.CandleBuffer),
		eventCh:  make(chan *model.Event, cfg.EventBuffer),
		replays:  make(map[model.Phase]*replay),
	}

	risk := strategy.NewTracker(d.Strategy)
	decider := strategy.NewEngine(d.Strategy, risk, d.Log.With().Str("comp", "strategy").Logger())
	s.live = stream.New(d.Stream, stream.Options{Phase: model.PhaseLive}, stream.Deps{
		TA:      d.TA,
		Sink:    fanSink{hub: d.Hub, events: s.eventCh, health: d.Health, log: d.Log},
		Decider: decider,
		Journal: d.Journal,
		Prom:    d.Prom,
		Log:     d.Log,
	})
	s.manager = execution.NewManager(d.Execution, d.Broker, risk,
		d.Prom, d.Log.With().Str("comp", "execution").Logger())
	return s
}

// Live exposes the live pipeline, mainly for status and tests.
func (s *Service) Live() *stream.Pipeline { return s.live }

// Run starts the history writers, the execution manager and the snapshot
// loop, then blocks on the live pipeline until ctx is cancelled. Replays
// started along the way are cancelled on the way out.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("service already running")
	}
	s.ctx = runCtx
	s.mu.Unlock()
	defer s.wg.Wait()
	defer cancel()

	last, err := s.writer.LastTimestamp()
	if err != nil {
		return fmt.Errorf("find resume point: %w", err)
	}
	var from int64
	if last > 0 {
		from = last + 1
	}

	var src model.CandleSource
	if s.bus != nil {
		// Bus candles also land in the history via the tee.
		src = teeSource{src: &liveFeed{src: s.bus, log: s.log}, side: s.candleCh}
		s.log.Info().Int64("from", from).Msg("live feed: candle bus with backlog catch-up")
	} else {
		// Someone else owns the history; tail it without writing back.
		src = s.history
		s.log.Info().Int64("from", from).Msg("live feed: history tail")
	}

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.writer.Run(runCtx, s.candleCh) }()
	go func() { defer s.wg.Done(); s.writer.RunEvents(runCtx, s.eventCh) }()
	go func() { defer s.wg.Done(); s.manager.Run(runCtx, s.live.Planned(), s.live) }()

	if s.snaps != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.snapshotLoop(runCtx) }()
	}

	if s.health != nil {
		s.health.SetLivePhaseOK(true)
		defer s.health.SetLivePhaseOK(false)
	}
	return s.live.Run(runCtx, src, from, 0)
}

// StartPlanning replays the trading days leading into date through the
// distributor under the planning phase tag. An empty date means today;
// days <= 0 takes the configured default.
func (s *Service) StartPlanning(date string, days int) error {
	if days <= 0 {
		days = s.cfg.PlanDays
	}
	if date == "" {
		date = session.DayKey(time.Now().UnixMilli())
	}
	day, err := time.ParseInLocation("2006-01-02", date, session.Eastern)
	if err != nil {
		return fmt.Errorf("parse planning date: %w", err)
	}

	start := day
	for i := 0; i < days; i++ {
		start = session.PrevTradingDay(start)
	}
	fromMs := start.UnixMilli()
	toMs := session.MarketOpen(day).UnixMilli()

	s.log.Info().Str("date", date).Int("days", days).
		Int64("from", fromMs).Int64("to", toMs).Msg("planning replay requested")
	return s.startReplay(model.PhasePlanning, fromMs, toMs, s.history, false)
}

// StartTrading sends the live stream's open zones and extremes to the
// requesting subscriber (nil broadcasts them), then replays a coarse
// warm-up of the 24h leading into the session open under the trading tag.
func (s *Service) StartTrading(to dist.EventSender) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return errors.New("service not running")
	}
	if to == nil {
		to = hubPort{s.hub}
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	snap, err := s.live.Snapshot(sctx)
	cancel()
	if err != nil {
		return fmt.Errorf("live snapshot: %w", err)
	}

	for i := range snap.Zones {
		to.SendEvent(model.NewZoneEvent(model.PhaseTrading, snap.TakenTS, snap.Zones[i]))
	}
	for i := range snap.Extremes {
		to.SendEvent(model.NewExtremeEvent(model.PhaseTrading, snap.TakenTS, snap.Extremes[i]))
	}

	open := session.MarketOpen(time.Now().In(session.Eastern))
	if snap.Day != "" {
		if d, err := time.ParseInLocation("2006-01-02", snap.Day, session.Eastern); err == nil {
			open = session.MarketOpen(d)
		}
	}
	warmTo := open.UnixMilli()
	warmFrom := open.Add(-24 * time.Hour).UnixMilli()

	candles, err := s.history.Candles(warmFrom, warmTo)
	if err != nil {
		return fmt.Errorf("warm-up history: %w", err)
	}
	coarse := stream.Resample(candles, s.cfg.WarmupTF.Milliseconds())

	s.log.Info().Int("zones", len(snap.Zones)).Int("extremes", len(snap.Extremes)).
		Int("warmup_candles", len(coarse)).Msg("trading replay requested")
	return s.startReplay(model.PhaseTrading, warmFrom, warmTo, &stream.SliceSource{Candles: coarse}, true)
}

// StopPhase cancels a running replay. The live stream only stops with the
// process.
func (s *Service) StopPhase(p model.Phase) error {
	if p == model.PhaseLive {
		return errors.New("live stream stops with the process")
	}
	s.mu.Lock()
	r, ok := s.replays[p]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s replay running", p)
	}
	r.cancel()
	return nil
}

// ActivePhases lists the streams currently emitting, live first.
func (s *Service) ActivePhases() []model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	phases := make([]model.Phase, 0, 3)
	if s.live.Status() == stream.StatusStreaming {
		phases = append(phases, model.PhaseLive)
	}
	for _, ph := range []model.Phase{model.PhasePlanning, model.PhaseTrading} {
		if _, ok := s.replays[ph]; ok {
			phases = append(phases, ph)
		}
	}
	return phases
}

// startReplay spawns one bounded pipeline under the phase tag. One replay
// per phase; the slot frees when the pipeline finishes or is stopped.
func (s *Service) startReplay(phase model.Phase, fromMs, toMs int64, src model.CandleSource, withDecider bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return errors.New("service not running")
	}
	if _, busy := s.replays[phase]; busy {
		return fmt.Errorf("%s replay already running", phase)
	}

	// A warm-up carries a fresh decision engine so subscribers see what the
	// live engine would have decided, but nothing executes: the planned
	// channel drains into the void.
	var decider model.Decider
	if withDecider {
		risk := strategy.NewTracker(s.strat)
		decider = strategy.NewEngine(s.strat, risk,
			s.log.With().Str("comp", "strategy").Str("phase", string(phase)).Logger())
	}

	p := stream.New(s.scfg, stream.Options{Phase: phase, Speed: s.cfg.ReplaySpeed}, stream.Deps{
		TA:      s.ta,
		Sink:    hubPort{s.hub},
		Decider: decider,
		Prom:    s.prom,
		Log:     s.log,
	})
	rctx, cancel := context.WithCancel(s.ctx)
	s.replays[phase] = &replay{p: p, cancel: cancel}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for range p.Planned() {
		}
	}()
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := p.Run(rctx, src, fromMs, toMs); err != nil {
			s.log.Error().Err(err).Str("phase", string(phase)).Msg("replay failed")
		}
		s.mu.Lock()
		delete(s.replays, phase)
		s.mu.Unlock()
		s.log.Info().Str("phase", string(phase)).Str("status", p.Status().String()).Msg("replay finished")
	}()
	return nil
}

// snapshotLoop persists the live state to the snapshot cache on a fixed
// cadence. Failures are logged and retried next tick.
func (s *Service) snapshotLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.SnapshotEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			snap, err := s.live.Snapshot(sctx)
			if err != nil {
				cancel()
				continue
			}
			data, err := json.Marshal(snap)
			if err == nil {
				err = s.snaps.SaveSnapshotJSON(sctx, data)
			}
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("snapshot save failed")
			}
		}
	}
}

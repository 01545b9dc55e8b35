package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/session"
	"marketflow/internal/ta"
	"marketflow/internal/zones"
)

// Status is the pipeline lifecycle state.
type Status int32

const (
	StatusIdle Status = iota
	StatusStreaming
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ErrNotIdle is returned when Run is called on a pipeline that already ran.
var ErrNotIdle = errors.New("pipeline already started")

// ErrNotStreaming is returned for snapshot/update calls against a pipeline
// that is not (or no longer) running.
var ErrNotStreaming = errors.New("pipeline not streaming")

// Config is the yaml-facing pipeline tuning.
type Config struct {
	MaxWindow int `yaml:"max_window" default:"500" validate:"gt=20"`
	SwingK    int `yaml:"swing_lookback" default:"3" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{MaxWindow: 500, SwingK: 3}
}

// Options are the per-run knobs that are not yaml config: which phase the
// emitted events carry and, for replays, the pacing.
type Options struct {
	Phase  model.Phase
	Speed  float64       // candle-gap divisor; <= 0 disables pacing
	MaxGap time.Duration // cap for one pacing sleep; 0 = 5s
}

// Deps are the pipeline's collaborators. Decider and Journal are optional:
// a planning replay carries neither, a trading warm-up carries no journal.
type Deps struct {
	TA      *ta.Engine
	Sink    model.EventSink
	Decider model.Decider
	Journal model.Journal
	Prom    *metrics.Metrics
	Log     zerolog.Logger
}

// Pipeline owns one stream state and drives it candle by candle. Create
// with New, start with Run (once), and talk to it only through Snapshot,
// SendUpdate and the Planned channel.
type Pipeline struct {
	cfg Config
	opt Options

	ta      *ta.Engine
	sink    model.EventSink
	decider model.Decider
	journal model.Journal
	prom    *metrics.Metrics
	log     zerolog.Logger

	st    *state
	swing *zones.SwingDetector

	planned chan model.Order
	updates chan model.OrderUpdate
	snapReq chan chan *Snapshot
	done    chan struct{}

	status atomic.Int32
	prevTS int64 // pacing reference
}

func New(cfg Config, opt Options, d Deps) *Pipeline {
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultConfig().MaxWindow
	}
	if cfg.SwingK <= 0 {
		cfg.SwingK = DefaultConfig().SwingK
	}
	if opt.Phase == "" {
		opt.Phase = model.PhaseLive
	}
	if opt.MaxGap <= 0 {
		opt.MaxGap = 5 * time.Second
	}
	if d.TA == nil {
		d.TA = ta.NewEngine(ta.DefaultConfig())
	}
	if d.Prom == nil {
		d.Prom = metrics.New(nil)
	}
	return &Pipeline{
		cfg:     cfg,
		opt:     opt,
		ta:      d.TA,
		sink:    d.Sink,
		decider: d.Decider,
		journal: d.Journal,
		prom:    d.Prom,
		log:     d.Log.With().Str("phase", string(opt.Phase)).Logger(),
		st:      newState(),
		swing:   zones.NewSwingDetector(cfg.SwingK),
		planned: make(chan model.Order, 16),
		updates: make(chan model.OrderUpdate, 64),
		snapReq: make(chan chan *Snapshot),
		done:    make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (p *Pipeline) Status() Status { return Status(p.status.Load()) }

// Done is closed when Run has returned.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Planned delivers every order the decision engine creates. The channel is
// closed when the pipeline stops.
func (p *Pipeline) Planned() <-chan model.Order { return p.planned }

// Phase returns the phase tag this pipeline stamps on its events.
func (p *Pipeline) Phase() model.Phase { return p.opt.Phase }

// SendUpdate hands an execution-manager transition report to the pipeline
// goroutine. It never mutates state itself.
func (p *Pipeline) SendUpdate(ctx context.Context, u model.OrderUpdate) error {
	select {
	case p.updates <- u:
		return nil
	case <-p.done:
		return ErrNotStreaming
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot asks the pipeline goroutine for a deep copy of its state.
func (p *Pipeline) Snapshot(ctx context.Context) (*Snapshot, error) {
	req := make(chan *Snapshot, 1)
	select {
	case p.snapReq <- req:
	case <-p.done:
		return nil, ErrNotStreaming
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-req:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run consumes the source until it is exhausted (bounded replay, status
// Completed) or ctx is cancelled (status Cancelled, returns nil; cancel
// is cleanup, not failure). Run may be called once.
func (p *Pipeline) Run(ctx context.Context, src model.CandleSource, fromMs, toMs int64) error {
	if !p.status.CompareAndSwap(int32(StatusIdle), int32(StatusStreaming)) {
		return ErrNotIdle
	}
	defer close(p.done)
	defer close(p.planned)
	defer p.flushJournal()

	ch, err := src.Stream(ctx, fromMs, toMs)
	if err != nil {
		p.status.Store(int32(StatusCancelled))
		return fmt.Errorf("open candle source: %w", err)
	}

	p.log.Info().Int64("from", fromMs).Int64("to", toMs).Float64("speed", p.opt.Speed).Msg("pipeline streaming")

	for {
		select {
		case <-ctx.Done():
			p.status.Store(int32(StatusCancelled))
			p.log.Info().Int("candles", len(p.st.candles)).Msg("pipeline cancelled")
			return nil
		case req := <-p.snapReq:
			req <- p.st.snapshot(p.opt.Phase, time.Now().UnixMilli())
		case u := <-p.updates:
			p.applyUpdate(u)
		case c, ok := <-ch:
			if !ok {
				p.status.Store(int32(StatusCompleted))
				p.log.Info().Int("candles", len(p.st.candles)).Msg("pipeline completed")
				return nil
			}
			if !p.pace(ctx, c.TS) {
				p.status.Store(int32(StatusCancelled))
				return nil
			}
			p.step(c)
		}
	}
}

// pace simulates the inter-candle gap for replays: gap/speed, capped.
// Returns false when ctx was cancelled mid-sleep.
func (p *Pipeline) pace(ctx context.Context, ts int64) bool {
	defer func() { p.prevTS = ts }()
	if p.opt.Speed <= 0 || p.prevTS == 0 || ts <= p.prevTS {
		return true
	}
	gap := time.Duration(float64(ts-p.prevTS) / p.opt.Speed * float64(time.Millisecond))
	if gap > p.opt.MaxGap {
		gap = p.opt.MaxGap
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(gap):
		return true
	}
}

// step advances the state by one closed candle. Detector order and event
// emission order are both fixed:
//
//	update:  rollover, liquidity, analytics, swings, plan zones
//	emit:    Candle, SwingPoint, LiquidityExtreme, PlanZone, Analysis
//
// then the decision step, then pending execution reports.
func (p *Pipeline) step(c model.Candle) {
	start := time.Now()

	p.rollover(c)
	p.st.candles = append(p.st.candles, c)

	liqChanges := p.st.liq.Update(c)
	snap := p.ta.Analyze(p.st.candles, p.st.candles[p.st.sessionStart:], p.st.analytics)
	p.st.analytics = append(p.st.analytics, snap)
	newSwings := p.swing.Confirm(p.st.candles)
	p.st.swings = append(p.st.swings, newSwings...)
	zoneChanges := p.st.zones.Update(p.st.candles, p.st.liq.Active())

	p.sink.Publish(model.NewCandleEvent(p.opt.Phase, c))
	for _, sw := range newSwings {
		p.sink.Publish(model.NewSwingEvent(p.opt.Phase, sw))
	}
	for _, e := range liqChanges {
		p.sink.Publish(model.NewExtremeEvent(p.opt.Phase, c.TS, e))
	}
	for _, z := range zoneChanges {
		p.sink.Publish(model.NewZoneEvent(p.opt.Phase, c.TS, z))
	}
	p.sink.Publish(model.NewAnalysisEvent(p.opt.Phase, snap))

	p.decide(c)
	p.watchExits(c)
	p.drainUpdates()

	p.st.trim(p.cfg.MaxWindow)

	p.prom.CandlesProcessed.WithLabelValues(string(p.opt.Phase)).Inc()
	p.prom.PipelineStepDur.Observe(time.Since(start).Seconds())
}

// rollover resets the per-day anchors when the candle belongs to a new
// trading day. The candle window itself carries over; the liquidity
// tracker re-keys its windows on its own.
func (p *Pipeline) rollover(c model.Candle) {
	day := session.DayKey(c.TS)
	if day == p.st.day {
		return
	}
	first := p.st.day == ""
	p.st.day = day
	p.st.sessionStart = len(p.st.candles)
	if first {
		return
	}
	p.flushJournal()
	if p.decider != nil {
		p.decider.OnDayRollover(day)
	}
	p.log.Info().Str("day", day).Msg("trading day rollover")
}

// decide runs the decision engine and registers any new Planned order.
func (p *Pipeline) decide(c model.Candle) {
	if p.decider == nil {
		return
	}
	v := model.StateView{
		Candle:      c,
		Window:      p.st.candles,
		Analytics:   p.st.analytics,
		Swings:      p.st.swings,
		Extremes:    p.st.liq.Active(),
		Zones:       p.st.zones.Active(),
		ActiveOrder: p.st.activeOrder(),
		Session:     p.st.day,
	}
	ord := p.decider.Step(v)
	if ord == nil {
		return
	}

	p.st.orders = append(p.st.orders, *ord)
	p.record(*ord)
	p.sink.Publish(model.NewOrderEvent(p.opt.Phase, ord.CreatedTS, *ord))
	p.prom.DecisionsTotal.WithLabelValues(string(ord.Regime)).Inc()
	p.prom.OrderTransitions.WithLabelValues(string(model.OrderPlanned)).Inc()
	p.log.Info().Str("order", ord.ID).Str("type", string(ord.Type)).
		Str("regime", string(ord.Regime)).Float64("score", ord.Score).
		Float64("entry", ord.EntryPrice).Msg("order planned")

	select {
	case p.planned <- *ord:
	default:
		p.log.Warn().Str("order", ord.ID).Msg("planned channel full, execution handoff dropped")
	}
}

// watchExits checks a Filled order's stops against the candle range. The
// stop side wins when one candle spans both levels. A trailing stop, once
// set, ratchets by the order's initial risk distance and replaces the
// static stop for touch checks.
func (p *Pipeline) watchExits(c model.Candle) {
	o := p.st.activeOrder()
	if o == nil || o.Status != model.OrderFilled {
		return
	}

	stop := o.StopLoss
	if o.TrailStop != 0 {
		stop = o.TrailStop
	}

	switch o.Type {
	case model.OrderLong:
		if c.Low <= stop {
			p.exit(o, model.OrderLoss, c.TS, "stop touched")
			return
		}
		if c.High >= o.TakeProfit {
			p.exit(o, model.OrderProfit, c.TS, "target touched")
			return
		}
		if o.TrailStop != 0 {
			if t := c.High - o.RiskPerUnit(); t > o.TrailStop {
				o.TrailStop = t
			}
		}
	case model.OrderShort:
		if c.High >= stop {
			p.exit(o, model.OrderLoss, c.TS, "stop touched")
			return
		}
		if c.Low <= o.TakeProfit {
			p.exit(o, model.OrderProfit, c.TS, "target touched")
			return
		}
		if o.TrailStop != 0 {
			if t := c.Low + o.RiskPerUnit(); t < o.TrailStop {
				o.TrailStop = t
			}
		}
	}
}

func (p *Pipeline) exit(o *model.Order, to model.OrderStatus, ts int64, reason string) {
	if err := o.Transition(to, ts); err != nil {
		p.log.Warn().Err(err).Str("order", o.ID).Msg("exit transition rejected")
		return
	}
	o.Reason = reason
	p.afterTransition(o, ts)
}

// drainUpdates applies every queued execution report without blocking.
func (p *Pipeline) drainUpdates() {
	for {
		select {
		case u := <-p.updates:
			p.applyUpdate(u)
		default:
			return
		}
	}
}

// applyUpdate folds one execution-manager report into the state. Metadata
// (broker ID, fill price, reason) always lands; the status transition is
// checked against the lifecycle table and dropped with a warn when stale
// or illegal (the local touch detector may have beaten the broker to it).
func (p *Pipeline) applyUpdate(u model.OrderUpdate) {
	o := p.st.findOrder(u.OrderID)
	if o == nil {
		p.log.Warn().Str("order", u.OrderID).Msg("update for unknown order")
		return
	}
	if u.BrokerOrderID != "" {
		o.BrokerOrderID = u.BrokerOrderID
	}
	if u.FillPrice > 0 {
		o.EntryPrice = u.FillPrice
	}
	if u.Reason != "" {
		o.Reason = u.Reason
	}
	if u.To == "" || u.To == o.Status {
		return
	}
	if err := o.Transition(u.To, u.TS); err != nil {
		p.log.Warn().Err(err).Str("order", o.ID).Str("to", string(u.To)).Msg("update transition rejected")
		return
	}
	p.afterTransition(o, u.TS)
}

// afterTransition journals, publishes and accounts an applied transition.
func (p *Pipeline) afterTransition(o *model.Order, ts int64) {
	p.record(*o)
	p.sink.Publish(model.NewOrderEvent(p.opt.Phase, ts, *o))
	p.prom.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	p.log.Info().Str("order", o.ID).Str("status", string(o.Status)).
		Str("reason", o.Reason).Msg("order transition")
	if o.Status.Terminal() && p.decider != nil {
		p.decider.OnOrderClosed(*o)
	}
}

func (p *Pipeline) record(o model.Order) {
	if p.journal != nil {
		p.journal.Record(o)
	}
}

func (p *Pipeline) flushJournal() {
	if p.journal == nil {
		return
	}
	if err := p.journal.Flush(); err != nil {
		p.log.Warn().Err(err).Msg("journal flush failed")
	}
}

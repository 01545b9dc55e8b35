package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketflow/internal/model"
)

// Config tunes the regime thresholds and decision gates.
type Config struct {
	// Regime detection
	ADXTrending     float64 `yaml:"adx_trending" default:"25" validate:"gt=0"`
	ADXRanging      float64 `yaml:"adx_ranging" default:"20" validate:"gt=0"`
	SqueezeVolSpike float64 `yaml:"squeeze_vol_spike" default:"2.0" validate:"gt=1"`
	TightBandRatio  float64 `yaml:"tight_band_ratio" default:"0.015" validate:"gt=0"`

	// Entry gates
	MinScoreTrend    float64       `yaml:"min_score_trend" default:"75" validate:"gte=0,lte=100"`
	MinScoreBreakout float64       `yaml:"min_score_breakout" default:"85" validate:"gte=0,lte=100"`
	MinScoreRange    float64       `yaml:"min_score_range" default:"75" validate:"gte=0,lte=100"`
	CrossMaxAge      time.Duration `yaml:"cross_max_age" default:"30m"`
	RSIFloor         float64       `yaml:"rsi_floor" default:"30"`
	RSICeil          float64       `yaml:"rsi_ceil" default:"70"`
	RelVolMin        float64       `yaml:"rel_vol_min" default:"1.2"`
	BandExtremeHigh  float64       `yaml:"band_extreme_high" default:"0.95"`
	BandExtremeLow   float64       `yaml:"band_extreme_low" default:"0.05"`

	// Exits
	StopATRTrend    float64 `yaml:"stop_atr_trend" default:"2.0" validate:"gt=0"`
	StopATRBreakout float64 `yaml:"stop_atr_breakout" default:"2.5" validate:"gt=0"`
	StopATRRange    float64 `yaml:"stop_atr_range" default:"1.5" validate:"gt=0"`
	TargetR         float64 `yaml:"target_r" default:"2.5" validate:"gt=0"`

	// Account gates
	DailyRCap       float64       `yaml:"daily_r_cap" default:"6.0"`
	NearCloseLead   time.Duration `yaml:"near_close_lead" default:"15m"`
	AccountBalance  float64       `yaml:"account_balance" default:"100000" validate:"gt=0"`
	RiskFraction    float64       `yaml:"risk_fraction" default:"0.01" validate:"gt=0,lte=0.1"`
	MaxRiskFraction float64       `yaml:"max_risk_fraction" default:"0.02" validate:"gt=0,lte=0.2"`

	// CandleDur is the nominal candle spacing, used to convert CrossMaxAge
	// into a candle count when the window is too short to infer it.
	CandleDur time.Duration `yaml:"candle_dur" default:"1m"`
}

func DefaultConfig() Config {
	return Config{
		ADXTrending:     25,
		ADXRanging:      20,
		SqueezeVolSpike: 2.0,
		TightBandRatio:  0.015,

		MinScoreTrend:    75,
		MinScoreBreakout: 85,
		MinScoreRange:    75,
		CrossMaxAge:      30 * time.Minute,
		RSIFloor:         30,
		RSICeil:          70,
		RelVolMin:        1.2,
		BandExtremeHigh:  0.95,
		BandExtremeLow:   0.05,

		StopATRTrend:    2.0,
		StopATRBreakout: 2.5,
		StopATRRange:    1.5,
		TargetR:         2.5,

		DailyRCap:       6.0,
		NearCloseLead:   15 * time.Minute,
		AccountBalance:  100_000,
		RiskFraction:    0.01,
		MaxRiskFraction: 0.02,

		CandleDur: time.Minute,
	}
}

// CrossMaxCandles converts the cross-age window into candle counts.
func (c Config) CrossMaxCandles() int {
	if c.CandleDur <= 0 {
		return int(c.CrossMaxAge / time.Minute)
	}
	return int(c.CrossMaxAge / c.CandleDur)
}

// Engine is the order decision engine. It satisfies model.Decider and is
// driven exclusively by the pipeline goroutine; the risk tracker carries
// the only cross-goroutine state.
type Engine struct {
	cfg  Config
	risk *Tracker
	log  zerolog.Logger
}

func NewEngine(cfg Config, risk *Tracker, log zerolog.Logger) *Engine {
	if risk == nil {
		risk = NewTracker(cfg)
	}
	return &Engine{cfg: cfg, risk: risk, log: log}
}

// Risk exposes the tracker for the operator API and reports.
func (e *Engine) Risk() *Tracker { return e.risk }

// Step evaluates one closed candle and returns a Planned order or nil.
func (e *Engine) Step(v model.StateView) *model.Order {
	if v.ActiveOrder != nil {
		return nil
	}
	if len(v.Analytics) == 0 {
		return nil
	}
	if ok, why := e.risk.CanTrade(v.Candle.TS); !ok {
		e.log.Debug().Str("why", why).Msg("trade gate closed")
		return nil
	}

	a := v.Analytics[len(v.Analytics)-1]
	rc := DetectRegime(a, e.cfg)
	if !rc.Regime.Tradeable() {
		return nil
	}

	var ord *model.Order
	switch rc.Regime {
	case model.RegimeTrendingHigh:
		ord = e.tryTrend(v, a, rc, model.OrderLong)
	case model.RegimeTrendingLow:
		ord = e.tryTrend(v, a, rc, model.OrderShort)
	case model.RegimeBreakout:
		ord = e.tryBreakout(v, a, rc)
	case model.RegimeRangingTight:
		ord = e.tryRangeFade(v, a, rc)
	}
	return ord
}

// OnOrderClosed settles a terminal order into the daily ledger.
func (e *Engine) OnOrderClosed(o model.Order) {
	r := o.RealizedR()
	e.risk.AddRealized(r)
	e.log.Info().Str("order", o.ID).Str("status", string(o.Status)).
		Float64("realized_r", r).Float64("daily_r", e.risk.DailyR()).Msg("trade settled")
}

// OnDayRollover resets the daily ledger.
func (e *Engine) OnDayRollover(day string) {
	e.risk.ResetDaily()
	e.log.Info().Str("day", day).Msg("daily risk ledger reset")
}

// tryTrend trades a pullback continuation: a fresh MA cross in the trend
// direction, momentum not yet exhausted, volume participating.
func (e *Engine) tryTrend(v model.StateView, a model.AnalysisSnapshot, rc model.RegimeClassification, dir model.OrderType) *model.Order {
	crossOK := (dir == model.OrderLong && a.Trend.GoldenCross()) ||
		(dir == model.OrderShort && !a.Trend.GoldenCross())
	if !crossOK || a.Trend.CrossAge < 0 || a.Trend.CrossAge > e.cfg.CrossMaxCandles() {
		return nil
	}
	if a.Momentum.RSI <= e.cfg.RSIFloor || a.Momentum.RSI >= e.cfg.RSICeil {
		return nil
	}
	if a.Volume.RelativeVolume < e.cfg.RelVolMin {
		return nil
	}
	sc := Score(a, dir, rc, e.cfg)
	if sc.Total() < e.cfg.MinScoreTrend {
		return nil
	}
	return e.build(v, a, rc, dir, sc, e.cfg.StopATRTrend, "trend_cross")
}

// tryBreakout trades a squeeze release: compression plus a volume spike,
// direction from DI dominance.
func (e *Engine) tryBreakout(v model.StateView, a model.AnalysisSnapshot, rc model.RegimeClassification) *model.Order {
	dir := model.OrderLong
	if a.Trend.MinusDI > a.Trend.PlusDI {
		dir = model.OrderShort
	}
	sc := Score(a, dir, rc, e.cfg)
	if sc.Total() < e.cfg.MinScoreBreakout {
		return nil
	}
	return e.build(v, a, rc, dir, sc, e.cfg.StopATRBreakout, "squeeze_breakout")
}

// tryRangeFade fades a band extreme inside a tight range when the
// oscillators pile up at the same extreme.
func (e *Engine) tryRangeFade(v model.StateView, a model.AnalysisSnapshot, rc model.RegimeClassification) *model.Order {
	pb := a.Volatility.Bollinger.PercentB
	var dir model.OrderType
	switch {
	case pb >= e.cfg.BandExtremeHigh && a.Momentum.RSI >= e.cfg.RSICeil && a.Momentum.StochasticK >= 80:
		dir = model.OrderShort
	case pb <= e.cfg.BandExtremeLow && a.Momentum.RSI <= e.cfg.RSIFloor && a.Momentum.StochasticK <= 20:
		dir = model.OrderLong
	default:
		return nil
	}
	sc := Score(a, dir, rc, e.cfg)
	if sc.Total() < e.cfg.MinScoreRange {
		return nil
	}
	return e.build(v, a, rc, dir, sc, e.cfg.StopATRRange, "range_fade")
}

// build assembles the Planned order: entry at the close, stop a regime
// multiple of ATR away, target at TargetR times the risk distance.
func (e *Engine) build(v model.StateView, a model.AnalysisSnapshot, rc model.RegimeClassification, dir model.OrderType, sc model.SignalScore, stopATR float64, entryStrategy string) *model.Order {
	atr := a.Volatility.ATR
	if atr <= 0 {
		return nil
	}
	entry := v.Candle.Close
	risk := stopATR * atr

	var stop, target float64
	if dir == model.OrderLong {
		stop = entry - risk
		target = entry + e.cfg.TargetR*risk
	} else {
		stop = entry + risk
		target = entry - e.cfg.TargetR*risk
	}

	return &model.Order{
		ID:             uuid.NewString(),
		Type:           dir,
		Status:         model.OrderPlanned,
		EntryPrice:     entry,
		StopLoss:       stop,
		TakeProfit:     target,
		RiskMultiplier: e.risk.Multiplier(sc.Total()),
		EntryStrategy:  entryStrategy,
		Regime:         rc.Regime,
		Score:          sc.Total(),
		CreatedTS:      v.Candle.TS,
	}
}

package ta

import "marketflow/internal/model"

// Config carries the indicator periods and band multipliers. Construct
// with DefaultConfig and override fields as needed; zero periods make
// every indicator fall back to its neutral reading.
type Config struct {
	MAPeriod         int     `yaml:"ma_period" default:"20"`
	ShortMAPeriod    int     `yaml:"short_ma_period" default:"9"`
	LongMAPeriod     int     `yaml:"long_ma_period" default:"21"`
	DMIPeriod        int     `yaml:"dmi_period" default:"14"`
	RSIPeriod        int     `yaml:"rsi_period" default:"14"`
	StochKPeriod     int     `yaml:"stoch_k_period" default:"14"`
	StochDPeriod     int     `yaml:"stoch_d_period" default:"3"`
	WilliamsPeriod   int     `yaml:"williams_period" default:"14"`
	CCIPeriod        int     `yaml:"cci_period" default:"20"`
	ATRPeriod        int     `yaml:"atr_period" default:"14"`
	KeltnerEMAPeriod int     `yaml:"keltner_ema_period" default:"20"`
	KeltnerATRPeriod int     `yaml:"keltner_atr_period" default:"14"`
	KeltnerMult      float64 `yaml:"keltner_mult" default:"1.5"`
	BollingerMult    float64 `yaml:"bollinger_mult" default:"2.0"`
	ProfileBuckets   int     `yaml:"profile_buckets" default:"24"`
	RelVolumePeriod  int     `yaml:"rel_volume_period" default:"20"`
}

// DefaultConfig returns the production periods: 9/21 EMAs for crosses,
// 14 for the Wilder family, 20 for the band center lines.
func DefaultConfig() Config {
	return Config{
		MAPeriod:         20,
		ShortMAPeriod:    9,
		LongMAPeriod:     21,
		DMIPeriod:        14,
		RSIPeriod:        14,
		StochKPeriod:     14,
		StochDPeriod:     3,
		WilliamsPeriod:   14,
		CCIPeriod:        20,
		ATRPeriod:        14,
		KeltnerEMAPeriod: 20,
		KeltnerATRPeriod: 14,
		KeltnerMult:      1.5,
		BollingerMult:    2.0,
		ProfileBuckets:   24,
		RelVolumePeriod:  20,
	}
}

// Engine computes one AnalysisSnapshot per processed candle. It holds no
// per-stream state; history-dependent fields are derived from the prev
// snapshots the caller retains, so identical inputs always reproduce the
// identical snapshot.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine { return &Engine{cfg: cfg} }

// Analyze computes the analytics for the last candle of w. session is
// the tail of w belonging to the current trading day and scopes the
// volume profile and VWAP; prev holds the snapshots of the earlier
// candles in the same stream, index-aligned with w[:len(w)-1].
func (e *Engine) Analyze(w, session []model.Candle, prev []model.AnalysisSnapshot) model.AnalysisSnapshot {
	if len(w) == 0 {
		return model.AnalysisSnapshot{}
	}
	snap := model.AnalysisSnapshot{
		TS:         w[len(w)-1].TS,
		Trend:      Trend(w, e.cfg),
		Momentum:   Momentum(w, e.cfg),
		Volatility: Volatility(w, e.cfg),
		Volume:     Volume(w, session, e.cfg),
	}
	enrich(&snap, prev)
	return snap
}

// enrich fills the fields that need earlier snapshots: cross age, the
// three-step slopes, and the one-step ATR delta.
func enrich(snap *model.AnalysisSnapshot, prev []model.AnalysisSnapshot) {
	snap.Trend.CrossAge = crossAge(snap.Trend.GoldenCross(), prev)
	snap.Trend.StrengthSlope = slope3(snap.Trend.ADX, prev, func(s *model.AnalysisSnapshot) float64 {
		return s.Trend.ADX
	})
	snap.Momentum.RSISlope = slope3(snap.Momentum.RSI, prev, func(s *model.AnalysisSnapshot) float64 {
		return s.Momentum.RSI
	})
	snap.Volatility.ATRSlope = slope3(snap.Volatility.ATR, prev, func(s *model.AnalysisSnapshot) float64 {
		return s.Volatility.ATR
	})
	if n := len(prev); n > 0 {
		snap.Volatility.ATRTrend = snap.Volatility.ATR - prev[n-1].Volatility.ATR
	}
}

// slope3 is the per-candle slope against the reading three candles back,
// (cur - prev3) / 3. Fewer than three prior snapshots read 0.
func slope3(cur float64, prev []model.AnalysisSnapshot, at func(*model.AnalysisSnapshot) float64) float64 {
	if len(prev) < 3 {
		return 0
	}
	return (cur - at(&prev[len(prev)-3])) / 3.0
}

// crossAge counts candles since the short/long MA relation last flipped.
// The flip candle itself reads 0; -1 means no flip is visible in the
// retained history.
func crossAge(goldenNow bool, prev []model.AnalysisSnapshot) int {
	age := 0
	for i := len(prev) - 1; i >= 0; i-- {
		if prev[i].Trend.GoldenCross() != goldenNow {
			return age
		}
		age++
	}
	return -1
}

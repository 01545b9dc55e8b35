package strategy

import (
	"testing"

	"marketflow/internal/logging"
	"marketflow/internal/model"
)

func tradeView(ts int64, a model.AnalysisSnapshot) model.StateView {
	a.TS = ts
	c := model.Candle{TS: ts, Open: 99.8, High: 100.4, Low: 99.6, Close: 100, Volume: 1500}
	return model.StateView{
		Candle:    c,
		Window:    []model.Candle{c},
		Analytics: []model.AnalysisSnapshot{a},
		Session:   "2024-06-11",
	}
}

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), nil, logging.Nop())
}

func TestEngine_TrendEntry(t *testing.T) {
	e := newTestEngine()
	ord := e.Step(tradeView(at(5), trendLongSnap()))
	if ord == nil {
		t.Fatal("strong trend setup should produce an order")
	}
	if ord.ID == "" {
		t.Error("order needs an id")
	}
	if ord.Type != model.OrderLong || ord.Status != model.OrderPlanned {
		t.Errorf("got %s/%s, want Long/Planned", ord.Type, ord.Status)
	}
	if ord.EntryStrategy != "trend_cross" || ord.Regime != model.RegimeTrendingHigh {
		t.Errorf("provenance: got %s/%s", ord.EntryStrategy, ord.Regime)
	}
	if ord.CreatedTS != at(5) {
		t.Errorf("created ts: got %d, want %d", ord.CreatedTS, at(5))
	}
	approx(t, "entry", ord.EntryPrice, 100)
	approx(t, "stop", ord.StopLoss, 97) // 2.0 x ATR 1.5 below the close
	approx(t, "target", ord.TakeProfit, 107.5)
	approx(t, "score", ord.Score, 90)
	approx(t, "risk multiplier", ord.RiskMultiplier, 2.0)
}

func TestEngine_BreakoutEntry(t *testing.T) {
	e := newTestEngine()
	ord := e.Step(tradeView(at(5), breakoutLongSnap()))
	if ord == nil {
		t.Fatal("squeeze release with a volume spike should produce an order")
	}
	if ord.Type != model.OrderLong || ord.EntryStrategy != "squeeze_breakout" {
		t.Errorf("got %s/%s, want Long/squeeze_breakout", ord.Type, ord.EntryStrategy)
	}
	if ord.Regime != model.RegimeBreakout {
		t.Errorf("regime: got %s, want Breakout", ord.Regime)
	}
	approx(t, "stop", ord.StopLoss, 97) // 2.5 x ATR 1.2, the widest stop
	approx(t, "target", ord.TakeProfit, 107.5)
}

func TestEngine_BreakoutDirectionFromDI(t *testing.T) {
	// Mirror of the long breakout: -DI dominant, oscillators bearish,
	// distribution volume. The release must be traded short.
	a := model.AnalysisSnapshot{
		Trend:    model.TrendAnalysis{ShortMA: 99.6, LongMA: 100, PlusDI: 12, MinusDI: 28, ADX: 30, CrossAge: 3},
		Momentum: model.MomentumAnalysis{RSI: 38, StochasticK: 30, StochasticD: 35, WilliamsR: -75, CCI: -120},
		Volatility: model.VolatilityAnalysis{
			CurrentTR: 1.1,
			ATR:       1.2,
			Keltner:   model.Band{Upper: 101, Center: 100, Lower: 99},
			Bollinger: model.BollingerBand{Upper: 100.8, Center: 100, Lower: 99.2, PercentB: 0.4},
		},
		Volume: model.VolumeAnalysis{VWAP: 100, RelativeVolume: 2.5, OBV: -3000, VPT: -80},
	}

	ord := newTestEngine().Step(tradeView(at(5), a))
	if ord == nil {
		t.Fatal("bearish squeeze release should produce an order")
	}
	if ord.Type != model.OrderShort {
		t.Fatalf("direction: got %s, want Short", ord.Type)
	}
	approx(t, "stop", ord.StopLoss, 103)
	approx(t, "target", ord.TakeProfit, 92.5)
}

func TestEngine_RangeFadeEntry(t *testing.T) {
	e := newTestEngine()
	ord := e.Step(tradeView(at(5), rangeFadeShortSnap()))
	if ord == nil {
		t.Fatal("pinned upper band in a tight range should fade short")
	}
	if ord.Type != model.OrderShort || ord.EntryStrategy != "range_fade" {
		t.Errorf("got %s/%s, want Short/range_fade", ord.Type, ord.EntryStrategy)
	}
	if ord.Regime != model.RegimeRangingTight {
		t.Errorf("regime: got %s, want RangingTight", ord.Regime)
	}
	approx(t, "stop", ord.StopLoss, 101.2) // 1.5 x ATR 0.8, the tightest stop
	approx(t, "target", ord.TakeProfit, 97)
	approx(t, "score", ord.Score, 76)
}

func TestEngine_ActiveOrderBlocks(t *testing.T) {
	e := newTestEngine()
	v := tradeView(at(5), trendLongSnap())
	v.ActiveOrder = &model.Order{ID: "open", Status: model.OrderFilled}
	if ord := e.Step(v); ord != nil {
		t.Fatalf("one order at a time: got a second order %+v", ord)
	}
}

func TestEngine_SessionGatesBlock(t *testing.T) {
	e := newTestEngine()
	if ord := e.Step(tradeView(at(60), trendLongSnap())); ord != nil {
		t.Errorf("10:30 sits in the blackout window, got %+v", ord)
	}
	if ord := e.Step(tradeView(at(380), trendLongSnap())); ord != nil {
		t.Errorf("15:50 is inside the close lead, got %+v", ord)
	}
}

func TestEngine_DailyCapAndRollover(t *testing.T) {
	e := newTestEngine()
	e.Risk().AddRealized(6.0)
	if ord := e.Step(tradeView(at(5), trendLongSnap())); ord != nil {
		t.Fatalf("capped day should not trade, got %+v", ord)
	}

	e.OnDayRollover("2024-06-12")
	if ord := e.Step(tradeView(at(5)+24*3_600_000, trendLongSnap())); ord == nil {
		t.Fatal("fresh day should trade again")
	}
}

func TestEngine_TrendFilters(t *testing.T) {
	stale := trendLongSnap()
	stale.Trend.CrossAge = 31

	unknownAge := trendLongSnap()
	unknownAge.Trend.CrossAge = -1

	hotRSI := trendLongSnap()
	hotRSI.Momentum.RSI = 75

	coldRSI := trendLongSnap()
	coldRSI.Momentum.RSI = 30

	thin := trendLongSnap()
	thin.Volume.RelativeVolume = 1.1

	noATR := trendLongSnap()
	noATR.Volatility.ATR = 0

	weak := trendLongSnap()
	weak.Trend.ADX = 26
	weak.Volume.RelativeVolume = 1.2
	weak.Volume.OBV, weak.Volume.VPT = -1, -1
	weak.Momentum.StochasticK = 45
	weak.Momentum.WilliamsR = -55
	weak.Momentum.CCI = -10

	cases := []struct {
		name string
		a    model.AnalysisSnapshot
	}{
		{"cross older than the freshness window", stale},
		{"cross age not yet measured", unknownAge},
		{"rsi already overbought", hotRSI},
		{"rsi at the floor", coldRSI},
		{"volume below participation", thin},
		{"no atr reading to anchor the stop", noATR},
		{"score below the trend bar", weak},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if ord := newTestEngine().Step(tradeView(at(5), tc.a)); ord != nil {
				t.Errorf("want no order, got %+v", ord)
			}
		})
	}
}

func TestEngine_FadeConfluenceRequired(t *testing.T) {
	offBand := rangeFadeShortSnap()
	offBand.Volatility.Bollinger.PercentB = 0.9

	softStoch := rangeFadeShortSnap()
	softStoch.Momentum.StochasticK = 70

	softRSI := rangeFadeShortSnap()
	softRSI.Momentum.RSI = 65

	weak := rangeFadeShortSnap()
	weak.Trend.ADX = 15
	weak.Trend.PlusDI, weak.Trend.MinusDI = 20, 10
	weak.Volume.OBV, weak.Volume.VPT = 900, 12

	cases := []struct {
		name string
		a    model.AnalysisSnapshot
	}{
		{"price not at the band extreme", offBand},
		{"stochastic not overbought", softStoch},
		{"rsi not overbought", softRSI},
		{"score below the fade bar", weak},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if ord := newTestEngine().Step(tradeView(at(5), tc.a)); ord != nil {
				t.Errorf("want no order, got %+v", ord)
			}
		})
	}
}

func TestEngine_UntradeableRegimesSkip(t *testing.T) {
	gray := trendLongSnap()
	gray.Trend.ADX = 22 // between the ranging and trending thresholds

	wide := trendLongSnap()
	wide.Trend.ADX = 10
	wide.Volatility.Bollinger = model.BollingerBand{Upper: 103, Center: 100, Lower: 97, PercentB: 0.6}

	e := newTestEngine()
	if ord := e.Step(tradeView(at(5), gray)); ord != nil {
		t.Errorf("unknown regime must not trade, got %+v", ord)
	}
	if ord := e.Step(tradeView(at(5), wide)); ord != nil {
		t.Errorf("wide range must not trade, got %+v", ord)
	}
}

func TestEngine_NoAnalyticsNoTrade(t *testing.T) {
	v := tradeView(at(5), trendLongSnap())
	v.Analytics = nil
	if ord := newTestEngine().Step(v); ord != nil {
		t.Fatalf("want no order without analytics, got %+v", ord)
	}
}

func TestEngine_OnOrderClosedSettlesLedger(t *testing.T) {
	e := newTestEngine()

	loss := model.Order{
		ID: "l1", Type: model.OrderLong, Status: model.OrderLoss,
		EntryPrice: 100, StopLoss: 97, TakeProfit: 107.5,
	}
	e.OnOrderClosed(loss)
	approx(t, "after loss", e.Risk().DailyR(), -1)

	profit := model.Order{
		ID: "p1", Type: model.OrderShort, Status: model.OrderProfit,
		EntryPrice: 100, StopLoss: 101.2, TakeProfit: 97,
	}
	e.OnOrderClosed(profit)
	approx(t, "after profit", e.Risk().DailyR(), -1+2.5)
}

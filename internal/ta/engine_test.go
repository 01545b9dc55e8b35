package ta

import (
	"math"
	"reflect"
	"testing"

	"marketflow/internal/model"
)

// ────────────────────────────────────────────────────────────
// Warm-up degradation
// ────────────────────────────────────────────────────────────

func TestAnalyze_WarmUp_NeutralDefaults(t *testing.T) {
	// Three candles against default periods (14/20): every indicator
	// must degrade to its neutral reading instead of erroring, so the
	// pipeline can emit snapshots from the very first candle.
	eng := NewEngine(DefaultConfig())
	w := rising(3, 100, 1)
	snap := eng.Analyze(w, w, nil)

	assertClose(t, "warm-up RSI", snap.Momentum.RSI, 50.0, 0.0001)
	assertClose(t, "warm-up %K", snap.Momentum.StochasticK, 50.0, 0.0001)
	assertClose(t, "warm-up W%R", snap.Momentum.WilliamsR, -50.0, 0.0001)
	assertClose(t, "warm-up CCI", snap.Momentum.CCI, 0.0, 0.0001)
	assertClose(t, "warm-up ADX", snap.Trend.ADX, 25.0, 0.0001)
	assertClose(t, "warm-up +DI", snap.Trend.PlusDI, 25.0, 0.0001)
	assertClose(t, "warm-up -DI", snap.Trend.MinusDI, 25.0, 0.0001)
	assertClose(t, "warm-up ATR", snap.Volatility.ATR, 0.0, 0.0001)
	assertClose(t, "warm-up relVol", snap.Volume.RelativeVolume, 1.0, 0.0001)

	// Bands collapse onto the last close rather than reading zero.
	last := w[len(w)-1].Close
	assertClose(t, "warm-up BB upper", snap.Volatility.Bollinger.Upper, last, 0.0001)
	assertClose(t, "warm-up BB lower", snap.Volatility.Bollinger.Lower, last, 0.0001)
	assertClose(t, "warm-up KC center", snap.Volatility.Keltner.Center, last, 0.0001)
	assertClose(t, "warm-up SMA", snap.Trend.SMA, last, 0.0001)

	if snap.Trend.CrossAge != -1 {
		t.Errorf("CrossAge with no history: got %d, want -1", snap.Trend.CrossAge)
	}
	if snap.TS != w[len(w)-1].TS {
		t.Errorf("snapshot TS: got %d, want %d", snap.TS, w[len(w)-1].TS)
	}
}

func TestAnalyze_EmptyWindow_ZeroSnapshot(t *testing.T) {
	eng := NewEngine(DefaultConfig())
	snap := eng.Analyze(nil, nil, nil)
	if snap.TS != 0 {
		t.Errorf("empty window TS: got %d, want 0", snap.TS)
	}
}

// ────────────────────────────────────────────────────────────
// History enrichment
// ────────────────────────────────────────────────────────────

func snapWithMAs(short, long float64) model.AnalysisSnapshot {
	return model.AnalysisSnapshot{Trend: model.TrendAnalysis{ShortMA: short, LongMA: long}}
}

func TestCrossAge_CountsFromFlip(t *testing.T) {
	// History: death, death, golden, golden; current golden.
	// The flip candle is prev[2], two candles before the current one.
	prev := []model.AnalysisSnapshot{
		snapWithMAs(99, 100),
		snapWithMAs(99, 100),
		snapWithMAs(101, 100),
		snapWithMAs(102, 100),
	}
	if age := crossAge(true, prev); age != 2 {
		t.Errorf("crossAge: got %d, want 2", age)
	}
}

func TestCrossAge_FlipAtCurrentCandle(t *testing.T) {
	prev := []model.AnalysisSnapshot{snapWithMAs(99, 100)}
	if age := crossAge(true, prev); age != 0 {
		t.Errorf("crossAge at flip: got %d, want 0", age)
	}
}

func TestCrossAge_NoFlipInHistory(t *testing.T) {
	prev := []model.AnalysisSnapshot{snapWithMAs(101, 100), snapWithMAs(102, 100)}
	if age := crossAge(true, prev); age != -1 {
		t.Errorf("crossAge without flip: got %d, want -1", age)
	}
	if age := crossAge(true, nil); age != -1 {
		t.Errorf("crossAge without history: got %d, want -1", age)
	}
}

func TestSlope3_KnownValue(t *testing.T) {
	prev := []model.AnalysisSnapshot{
		{Trend: model.TrendAnalysis{ADX: 10}},
		{Trend: model.TrendAnalysis{ADX: 20}},
		{Trend: model.TrendAnalysis{ADX: 30}},
	}
	at := func(s *model.AnalysisSnapshot) float64 { return s.Trend.ADX }
	// (40 - 10) / 3 = 10
	assertClose(t, "slope3", slope3(40, prev, at), 10.0, 0.0001)
	assertClose(t, "slope3 short history", slope3(40, prev[:2], at), 0.0, 0.0001)
}

func TestEnrich_ATRTrendIsOneStepDelta(t *testing.T) {
	prev := []model.AnalysisSnapshot{{Volatility: model.VolatilityAnalysis{ATR: 2.0}}}
	snap := model.AnalysisSnapshot{Volatility: model.VolatilityAnalysis{ATR: 2.5}}
	enrich(&snap, prev)
	assertClose(t, "ATR trend", snap.Volatility.ATRTrend, 0.5, 0.0001)
}

func TestAnalyze_CrossAgeOverStream(t *testing.T) {
	// In a monotonic climb both EMAs read "last close" until they have
	// enough candles. The long EMA becomes real at candle 21, which is
	// where the short EMA first exceeds it: the one golden cross of the
	// run. Nine more candles follow, so the final snapshot reads age 9.
	eng := NewEngine(DefaultConfig())
	candles := rising(30, 100, 1)

	var hist []model.AnalysisSnapshot
	for i := range candles {
		snap := eng.Analyze(candles[:i+1], candles[:i+1], hist)
		hist = append(hist, snap)
	}
	if got := hist[len(hist)-1].Trend.CrossAge; got != 9 {
		t.Errorf("CrossAge after 30 rising candles: got %d, want 9", got)
	}
}

// ────────────────────────────────────────────────────────────
// Replay determinism
// ────────────────────────────────────────────────────────────

func TestAnalyze_ReplayDeterminism(t *testing.T) {
	// Identical candle sequences through fresh histories must yield
	// bit-identical snapshots: no hidden state, no accumulation drift.
	gen := func() []model.AnalysisSnapshot {
		eng := NewEngine(DefaultConfig())
		candles := make([]model.Candle, 60)
		for i := range candles {
			base := 100 + 5*math.Sin(float64(i)/7) + float64(i%5)
			c := candleAt(i, base)
			c.High = base + 0.3 + float64(i%3)*0.2
			c.Low = base - 0.4
			c.Volume = float64(500 + 37*(i%11))
			candles[i] = c
		}
		out := make([]model.AnalysisSnapshot, 0, len(candles))
		for i := range candles {
			snap := eng.Analyze(candles[:i+1], candles[:i+1], out)
			out = append(out, snap)
		}
		return out
	}

	a, b := gen(), gen()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			t.Fatalf("snapshot %d diverged:\n  a=%+v\n  b=%+v", i, a[i], b[i])
		}
	}
}

// ────────────────────────────────────────────────────────────
// Squeeze detection
// ────────────────────────────────────────────────────────────

func TestSqueeze_QuietInsideNoisyHistory(t *testing.T) {
	// 40 wide-ranging candles then 20 dead-flat ones: the Bollinger band
	// contracts with the last 20 closes while Keltner stays propped open
	// by the Wilder ATR's memory of the wide bars.
	candles := make([]model.Candle, 0, 60)
	for i := 0; i < 40; i++ {
		base := 100 + 8*math.Sin(float64(i))
		c := candleAt(i, base)
		c.High, c.Low = base+4, base-4
		candles = append(candles, c)
	}
	for i := 40; i < 60; i++ {
		c := candleAt(i, 100)
		c.High, c.Low = 100.1, 99.9
		candles = append(candles, c)
	}

	eng := NewEngine(DefaultConfig())
	snap := eng.Analyze(candles, candles, nil)
	if !snap.Volatility.Squeeze() {
		t.Errorf("expected squeeze after volatility collapse: BB=%+v KC=%+v",
			snap.Volatility.Bollinger, snap.Volatility.Keltner)
	}
}

package strategy

import "marketflow/internal/model"

// maxComponent caps each score component; five components keep the total
// at or under 100.
const maxComponent = 20.0

// Score rates a candidate setup in direction dir against the latest
// analytics and the regime verdict. Every component is clamped to [0, 20].
func Score(a model.AnalysisSnapshot, dir model.OrderType, rc model.RegimeClassification, cfg Config) model.SignalScore {
	return model.SignalScore{
		TrendAlignment:      trendAlignment(a, dir, cfg),
		VolumeConfirmation:  volumeConfirmation(a, dir),
		MomentumConvergence: momentumConvergence(a, dir, rc),
		VolatilityContext:   volatilityContext(a, dir),
		RegimeFit:           regimeFit(rc, dir),
	}
}

// trendAlignment: up to 10 for ADX strength, 5 for DI agreement with the
// direction, 5 for a fresh MA cross the same way.
func trendAlignment(a model.AnalysisSnapshot, dir model.OrderType, cfg Config) float64 {
	s := clamp(a.Trend.ADX/5, 0, 10)

	diAgrees := (dir == model.OrderLong && a.Trend.PlusDI > a.Trend.MinusDI) ||
		(dir == model.OrderShort && a.Trend.MinusDI > a.Trend.PlusDI)
	if diAgrees {
		s += 5
	}

	crossAgrees := (dir == model.OrderLong && a.Trend.GoldenCross()) ||
		(dir == model.OrderShort && !a.Trend.GoldenCross())
	if crossAgrees && a.Trend.CrossAge >= 0 && a.Trend.CrossAge <= cfg.CrossMaxCandles() {
		s += 5
	}
	return clamp(s, 0, maxComponent)
}

// volumeConfirmation: participation (relative volume) plus OBV and VPT
// agreeing with the direction.
func volumeConfirmation(a model.AnalysisSnapshot, dir model.OrderType) float64 {
	rv := a.Volume.RelativeVolume
	var s float64
	switch {
	case rv >= 2.0:
		s = 12
	case rv >= 1.5:
		s = 8
	case rv >= 1.2:
		s = 5
	default:
		s = clamp(rv*4, 0, 4)
	}

	long := dir == model.OrderLong
	if (long && a.Volume.OBV > 0) || (!long && a.Volume.OBV < 0) {
		s += 4
	}
	if (long && a.Volume.VPT > 0) || (!long && a.Volume.VPT < 0) {
		s += 4
	}
	return clamp(s, 0, maxComponent)
}

// momentumConvergence: five points per oscillator backing the setup. For
// trend and breakout entries that means siding with the direction. A range
// fade trades against momentum, so there the oscillators back the setup by
// piling up at the extreme being faded.
func momentumConvergence(a model.AnalysisSnapshot, dir model.OrderType, rc model.RegimeClassification) float64 {
	m := a.Momentum
	long := dir == model.OrderLong
	var n float64

	if rc.Regime == model.RegimeRangingTight {
		if (long && m.RSI <= 30) || (!long && m.RSI >= 70) {
			n++
		}
		if (long && m.StochasticK <= 20) || (!long && m.StochasticK >= 80) {
			n++
		}
		if (long && m.WilliamsR <= -80) || (!long && m.WilliamsR >= -20) {
			n++
		}
		if (long && m.CCI <= -100) || (!long && m.CCI >= 100) {
			n++
		}
		return clamp(n*5, 0, maxComponent)
	}

	if (long && m.RSI > 50) || (!long && m.RSI < 50) {
		n++
	}
	if (long && m.StochasticK > 50) || (!long && m.StochasticK < 50) {
		n++
	}
	if (long && m.WilliamsR > -50) || (!long && m.WilliamsR < -50) {
		n++
	}
	if (long && m.CCI > 0) || (!long && m.CCI < 0) {
		n++
	}
	return clamp(n*5, 0, maxComponent)
}

// volatilityContext: a live ATR reading, price positioned inside (not
// beyond) the bands for the direction, and the Keltner channel not already
// exceeded.
func volatilityContext(a model.AnalysisSnapshot, dir model.OrderType) float64 {
	v := a.Volatility
	var s float64
	if v.ATR > 0 {
		s += 5
	}

	pb := v.Bollinger.PercentB
	if dir == model.OrderLong {
		switch {
		case pb >= 0.45 && pb <= 0.95:
			s += 10 // room to run upward
		case pb < 0.45:
			s += 5 // early, but not against us
		}
	} else {
		switch {
		case pb >= 0.05 && pb <= 0.55:
			s += 10
		case pb > 0.55:
			s += 5
		}
	}

	if v.Keltner.Width() > 0 {
		s += 5
	}
	return clamp(s, 0, maxComponent)
}

// regimeFit: detector confidence weighted by how appropriate the regime is
// for taking this trade at all.
func regimeFit(rc model.RegimeClassification, dir model.OrderType) float64 {
	var fit float64
	switch rc.Regime {
	case model.RegimeTrendingHigh:
		if dir == model.OrderLong {
			fit = 1.0
		}
	case model.RegimeTrendingLow:
		if dir == model.OrderShort {
			fit = 1.0
		}
	case model.RegimeBreakout:
		fit = 1.0
	case model.RegimeRangingTight:
		fit = 0.8
	}
	return clamp(rc.Confidence*fit*maxComponent, 0, maxComponent)
}

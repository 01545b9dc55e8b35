// Package strategy turns per-candle analytics into at most one order per
// candle: classify the regime, score the setup, gate on risk limits, then
// emit a Planned order for the execution manager.
package strategy

import "marketflow/internal/model"

// DetectRegime classifies the market condition from one analytics snapshot.
// Breakout is checked first: a squeeze with a volume spike outranks the
// trend/range split. The trending and ranging ADX thresholds leave a gray
// band between them that reads Unknown.
func DetectRegime(a model.AnalysisSnapshot, cfg Config) model.RegimeClassification {
	rc := model.RegimeClassification{
		Regime:          model.RegimeUnknown,
		TrendScore:      clamp(a.Trend.ADX*2, 0, 100),
		VolatilityScore: volatilityScore(a),
		VolumeScore:     clamp(a.Volume.RelativeVolume*50, 0, 100),
	}

	adx := a.Trend.ADX
	switch {
	case a.Volatility.Squeeze() && a.Volume.RelativeVolume >= cfg.SqueezeVolSpike:
		rc.Regime = model.RegimeBreakout
		rc.Confidence = clamp(0.5+(a.Volume.RelativeVolume-cfg.SqueezeVolSpike)/cfg.SqueezeVolSpike, 0, 1)

	case adx >= cfg.ADXTrending && a.Trend.PlusDI > a.Trend.MinusDI:
		rc.Regime = model.RegimeTrendingHigh
		rc.Confidence = clamp(0.5+(adx-cfg.ADXTrending)/50, 0, 1)

	case adx >= cfg.ADXTrending && a.Trend.MinusDI > a.Trend.PlusDI:
		rc.Regime = model.RegimeTrendingLow
		rc.Confidence = clamp(0.5+(adx-cfg.ADXTrending)/50, 0, 1)

	case adx < cfg.ADXRanging:
		if bandRatio(a) <= cfg.TightBandRatio {
			rc.Regime = model.RegimeRangingTight
		} else {
			rc.Regime = model.RegimeRangingWide
		}
		rc.Confidence = clamp(0.5+(cfg.ADXRanging-adx)/20, 0, 1)
	}
	return rc
}

// bandRatio is the Bollinger width relative to its center, the "how narrow
// is this range" measure. A zero center (empty window) reads as wide.
func bandRatio(a model.AnalysisSnapshot) float64 {
	c := a.Volatility.Bollinger.Center
	if c <= 0 {
		return 1
	}
	return a.Volatility.Bollinger.Width() / c
}

func volatilityScore(a model.AnalysisSnapshot) float64 {
	// Band expansion maps 0..5% width/center onto 0..100.
	return clamp(bandRatio(a)*2000, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package model

// Regime is the closed set of market-condition classifications.
type Regime string

const (
	RegimeTrendingHigh Regime = "TrendingHigh"
	RegimeTrendingLow  Regime = "TrendingLow"
	RegimeRangingTight Regime = "RangingTight"
	RegimeRangingWide  Regime = "RangingWide"
	RegimeBreakout     Regime = "Breakout"
	RegimeUnknown      Regime = "Unknown"
)

// Tradeable reports whether the decision engine may open trades in this
// regime. Unknown and RangingWide are explicit do-not-trade regimes.
func (r Regime) Tradeable() bool {
	return r != RegimeUnknown && r != RegimeRangingWide
}

// RegimeClassification is the detector's verdict for one candle.
type RegimeClassification struct {
	Regime          Regime  `json:"regime"`
	Confidence      float64 `json:"confidence"` // 0..1
	TrendScore      float64 `json:"trend_score"`
	VolatilityScore float64 `json:"volatility_score"`
	VolumeScore     float64 `json:"volume_score"`
}

// SignalScore is the five-component setup score. Each component is capped
// at 20 points, so Total never exceeds 100.
type SignalScore struct {
	TrendAlignment      float64 `json:"trend_alignment"`
	VolumeConfirmation  float64 `json:"volume_confirmation"`
	MomentumConvergence float64 `json:"momentum_convergence"`
	VolatilityContext   float64 `json:"volatility_context"`
	RegimeFit           float64 `json:"regime_fit"`
}

// Total sums the five components.
func (s SignalScore) Total() float64 {
	return s.TrendAlignment + s.VolumeConfirmation + s.MomentumConvergence +
		s.VolatilityContext + s.RegimeFit
}

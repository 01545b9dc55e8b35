package model

// adxDirectionThreshold is the minimum ADX for a DI-dominance reading to
// count as a directional trend rather than a doji/no-trend reading.
const adxDirectionThreshold = 20.0

// TrendDirection is the coarse trend reading derived from DMI.
type TrendDirection string

const (
	TrendUp   TrendDirection = "Up"
	TrendDown TrendDirection = "Down"
	TrendDoji TrendDirection = "Doji"
)

// TrendAnalysis holds the moving-average and DMI/ADX readings for one candle.
type TrendAnalysis struct {
	SMA           float64 `json:"sma"`
	EMA           float64 `json:"ema"`
	ShortMA       float64 `json:"short_ma"`
	LongMA        float64 `json:"long_ma"`
	PlusDI        float64 `json:"plus_di"`
	MinusDI       float64 `json:"minus_di"`
	ADX           float64 `json:"adx"`
	CrossAge      int     `json:"cross_age"`      // candles since last short/long MA cross, -1 if never seen
	StrengthSlope float64 `json:"strength_slope"` // 3-step ADX slope
}

// GoldenCross reports whether the short MA is above the long MA.
func (t *TrendAnalysis) GoldenCross() bool { return t.ShortMA > t.LongMA }

// Direction derives Up/Down/Doji from DI dominance gated by ADX.
func (t *TrendAnalysis) Direction() TrendDirection {
	if t.ADX <= adxDirectionThreshold {
		return TrendDoji
	}
	switch {
	case t.PlusDI > t.MinusDI:
		return TrendUp
	case t.MinusDI > t.PlusDI:
		return TrendDown
	default:
		return TrendDoji
	}
}

// MomentumAnalysis holds the oscillator readings for one candle.
type MomentumAnalysis struct {
	RSI         float64 `json:"rsi"`
	StochasticK float64 `json:"stochastic_k"`
	StochasticD float64 `json:"stochastic_d"`
	WilliamsR   float64 `json:"williams_r"`
	CCI         float64 `json:"cci"`
	RSISlope    float64 `json:"rsi_slope"` // 3-step RSI slope
}

// Band is a three-line price channel (Keltner).
type Band struct {
	Upper  float64 `json:"upper"`
	Center float64 `json:"center"`
	Lower  float64 `json:"lower"`
}

// Width returns the upper-to-lower band distance.
func (b Band) Width() float64 { return b.Upper - b.Lower }

// BollingerBand is a standard-deviation channel with the %B position of the
// last close inside it.
type BollingerBand struct {
	Upper    float64 `json:"upper"`
	Center   float64 `json:"center"`
	Lower    float64 `json:"lower"`
	PercentB float64 `json:"percent_b"`
}

// Width returns the upper-to-lower band distance.
func (b BollingerBand) Width() float64 { return b.Upper - b.Lower }

// StdDevBands is the sigma envelope around the window mean; callers project
// the ±kσ levels they need.
type StdDevBands struct {
	Center float64 `json:"center"`
	Sigma  float64 `json:"sigma"`
}

// Upper returns center + k*sigma.
func (s StdDevBands) Upper(k float64) float64 { return s.Center + k*s.Sigma }

// Lower returns center - k*sigma.
func (s StdDevBands) Lower(k float64) float64 { return s.Center - k*s.Sigma }

// VolatilityAnalysis holds the range/volatility readings for one candle.
type VolatilityAnalysis struct {
	CurrentTR float64       `json:"current_tr"`
	ATR       float64       `json:"atr"`
	ATRTrend  float64       `json:"atr_trend"` // ATR minus its value one candle earlier
	ATRSlope  float64       `json:"atr_slope"` // 3-step ATR slope
	Keltner   Band          `json:"keltner"`
	Bollinger BollingerBand `json:"bollinger"`
	StdDev    StdDevBands   `json:"std_dev"`
}

// Squeeze reports whether the Bollinger band sits fully inside the Keltner
// channel, the compression that precedes a breakout.
func (v *VolatilityAnalysis) Squeeze() bool {
	return v.Bollinger.Upper < v.Keltner.Upper && v.Bollinger.Lower > v.Keltner.Lower
}

// VolumeLevel is one price bucket of the volume profile.
type VolumeLevel struct {
	Price  float64 `json:"price"` // bucket center
	Volume float64 `json:"volume"`
}

// VolumeProfile is the traded-volume distribution over the window.
type VolumeProfile struct {
	Levels         []VolumeLevel `json:"levels"`
	PointOfControl float64       `json:"point_of_control"`
	ValueAreaHigh  float64       `json:"value_area_high"`
	ValueAreaLow   float64       `json:"value_area_low"`
}

// VolumeAnalysis holds the volume readings for one candle.
type VolumeAnalysis struct {
	Profile        VolumeProfile `json:"profile"`
	VWAP           float64       `json:"vwap"`
	RelativeVolume float64       `json:"relative_volume"` // current / 20-bar average
	OBV            float64       `json:"obv"`
	VPT            float64       `json:"vpt"`
}

// AnalysisSnapshot bundles all four analytics for the candle at TS. One
// snapshot is appended per processed candle, index-aligned with the window.
type AnalysisSnapshot struct {
	TS         int64              `json:"ts"`
	Trend      TrendAnalysis      `json:"trend"`
	Momentum   MomentumAnalysis   `json:"momentum"`
	Volatility VolatilityAnalysis `json:"volatility"`
	Volume     VolumeAnalysis     `json:"volume"`
}

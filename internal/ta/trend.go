package ta

import "marketflow/internal/model"

// Neutral defaults returned while a window is shorter than an indicator's
// period. These are product behavior, not placeholders: the pipeline keeps
// moving during warm-up instead of blocking or erroring.
const (
	NeutralRSI        = 50.0
	NeutralADX        = 25.0
	NeutralDI         = 25.0
	NeutralStochastic = 50.0
	NeutralWilliamsR  = -50.0
	NeutralCCI        = 0.0
)

// maScanFactor bounds how much history the EMA recurrence walks. Beyond
// ~3x the period the older terms contribute nothing measurable.
const maScanFactor = 3

// SMA returns the simple moving average of the last period closes.
// Falls back to the last close when the window is shorter than period,
// and 0 on an empty window.
func SMA(w []model.Candle, period int) float64 {
	n := len(w)
	if n == 0 {
		return 0
	}
	if period <= 0 || n < period {
		return w[n-1].Close
	}
	var sum float64
	for i := n - period; i < n; i++ {
		sum += w[i].Close
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average of closes: seeded with the SMA
// of the first period values, multiplier 2/(period+1). The scan is bounded
// to the most recent maScanFactor*period candles. Same degradation as SMA.
func EMA(w []model.Candle, period int) float64 {
	n := len(w)
	if n == 0 {
		return 0
	}
	if period <= 0 || n < period {
		return w[n-1].Close
	}
	if bound := maScanFactor * period; n > bound {
		w = w[n-bound:]
		n = bound
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += w[i].Close
	}
	ema := sum / float64(period)
	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < n; i++ {
		ema = (w[i].Close-ema)*k + ema
	}
	return ema
}

// DMI computes the directional movement readings (+DI, -DI, ADX) with
// Wilder smoothing. Degradation: fewer than period+1 candles returns the
// full neutral triple (25, 25, 25); DI become real once period+1 candles
// exist, while ADX stays at its neutral 25 until a second smoothing pass
// has 2*period of history behind it.
func DMI(w []model.Candle, period int) (plusDI, minusDI, adx float64) {
	n := len(w)
	if period <= 0 || n < period+1 {
		return NeutralDI, NeutralDI, NeutralADX
	}

	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		upMove := w[i].High - w[i-1].High
		downMove := w[i-1].Low - w[i].Low
		var pdm, mdm float64
		if upMove > downMove && upMove > 0 {
			pdm = upMove
		}
		if downMove > upMove && downMove > 0 {
			mdm = downMove
		}
		plusDM = append(plusDM, pdm)
		minusDM = append(minusDM, mdm)
		trs = append(trs, TrueRange(w[i-1], w[i]))
	}

	smTR := wilderSeries(trs, period)
	smPDM := wilderSeries(plusDM, period)
	smMDM := wilderSeries(minusDM, period)

	dx := make([]float64, len(smTR))
	for i := range smTR {
		if smTR[i] == 0 {
			dx[i] = 0
			continue
		}
		pdi := 100 * smPDM[i] / smTR[i]
		mdi := 100 * smMDM[i] / smTR[i]
		if sum := pdi + mdi; sum > 0 {
			dx[i] = 100 * abs(pdi-mdi) / sum
		}
	}

	last := len(smTR) - 1
	if smTR[last] > 0 {
		plusDI = 100 * smPDM[last] / smTR[last]
		minusDI = 100 * smMDM[last] / smTR[last]
	} else {
		plusDI, minusDI = NeutralDI, NeutralDI
	}

	adx = NeutralADX
	if v, ok := wilderSmooth(dx, period); ok {
		adx = v
	}
	return plusDI, minusDI, adx
}

// Trend assembles the trend analysis for the window. CrossAge and
// StrengthSlope need per-stream history and are filled by the engine's
// enrichment step.
func Trend(w []model.Candle, cfg Config) model.TrendAnalysis {
	plusDI, minusDI, adx := DMI(w, cfg.DMIPeriod)
	return model.TrendAnalysis{
		SMA:      SMA(w, cfg.MAPeriod),
		EMA:      EMA(w, cfg.MAPeriod),
		ShortMA:  EMA(w, cfg.ShortMAPeriod),
		LongMA:   EMA(w, cfg.LongMAPeriod),
		PlusDI:   plusDI,
		MinusDI:  minusDI,
		ADX:      adx,
		CrossAge: -1,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

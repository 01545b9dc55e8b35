package ta

import (
	"math"

	"marketflow/internal/model"
)

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(prev, cur model.Candle) float64 {
	tr := cur.High - cur.Low
	if v := abs(cur.High - prev.Close); v > tr {
		tr = v
	}
	if v := abs(cur.Low - prev.Close); v > tr {
		tr = v
	}
	return tr
}

// CurrentTR returns the latest candle's true range; the first candle of a
// stream uses its own high-low span.
func CurrentTR(w []model.Candle) float64 {
	n := len(w)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return w[0].Range()
	}
	return TrueRange(w[n-2], w[n-1])
}

// ATR returns the Wilder-smoothed average true range. Needs period+1
// candles (period true-range samples); shorter windows return 0, which
// downstream rules treat as "no volatility reading yet".
func ATR(w []model.Candle, period int) float64 {
	n := len(w)
	if period <= 0 || n < period+1 {
		return 0
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		trs = append(trs, TrueRange(w[i-1], w[i]))
	}
	v, _ := wilderSmooth(trs, period)
	return v
}

// stdDev returns the population standard deviation of the last period
// closes together with their mean.
func stdDev(w []model.Candle, period int) (mean, sigma float64) {
	n := len(w)
	if period <= 0 || n < period {
		if n == 0 {
			return 0, 0
		}
		return w[n-1].Close, 0
	}
	var sum float64
	for i := n - period; i < n; i++ {
		sum += w[i].Close
	}
	mean = sum / float64(period)
	var sq float64
	for i := n - period; i < n; i++ {
		d := w[i].Close - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(period))
}

// Bollinger returns the SMA +/- mult*sigma channel and the last close's %B
// position inside it. Short windows collapse the band onto the last close
// with %B 0.5.
func Bollinger(w []model.Candle, period int, mult float64) model.BollingerBand {
	n := len(w)
	if n == 0 {
		return model.BollingerBand{PercentB: 0.5}
	}
	mean, sigma := stdDev(w, period)
	b := model.BollingerBand{
		Upper:    mean + mult*sigma,
		Center:   mean,
		Lower:    mean - mult*sigma,
		PercentB: 0.5,
	}
	if width := b.Upper - b.Lower; width > 0 {
		b.PercentB = (w[n-1].Close - b.Lower) / width
	}
	return b
}

// Keltner returns the EMA +/- mult*ATR channel. Short windows collapse the
// channel onto the last close.
func Keltner(w []model.Candle, emaPeriod, atrPeriod int, mult float64) model.Band {
	n := len(w)
	if n == 0 {
		return model.Band{}
	}
	center := EMA(w, emaPeriod)
	atr := ATR(w, atrPeriod)
	return model.Band{
		Upper:  center + mult*atr,
		Center: center,
		Lower:  center - mult*atr,
	}
}

// StdDevBands returns the sigma envelope around the window mean.
func StdDevBands(w []model.Candle, period int) model.StdDevBands {
	mean, sigma := stdDev(w, period)
	return model.StdDevBands{Center: mean, Sigma: sigma}
}

// Volatility assembles the volatility analysis for the window. ATRTrend and
// ATRSlope need per-stream history and are filled by the engine's
// enrichment step.
func Volatility(w []model.Candle, cfg Config) model.VolatilityAnalysis {
	return model.VolatilityAnalysis{
		CurrentTR: CurrentTR(w),
		ATR:       ATR(w, cfg.ATRPeriod),
		Keltner:   Keltner(w, cfg.KeltnerEMAPeriod, cfg.KeltnerATRPeriod, cfg.KeltnerMult),
		Bollinger: Bollinger(w, cfg.MAPeriod, cfg.BollingerMult),
		StdDev:    StdDevBands(w, cfg.MAPeriod),
	}
}

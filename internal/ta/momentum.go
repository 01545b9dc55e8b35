package ta

import "marketflow/internal/model"

// RSI returns the Wilder-smoothed relative strength index over the last
// period price changes. Needs period+1 candles; shorter windows return the
// neutral 50. All losses zero returns 100.
func RSI(w []model.Candle, period int) float64 {
	n := len(w)
	if period <= 0 || n < period+1 {
		return NeutralRSI
	}

	gains := make([]float64, 0, n-1)
	losses := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		delta := w[i].Close - w[i-1].Close
		if delta > 0 {
			gains = append(gains, delta)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -delta)
		}
	}

	avgGain, _ := wilderSmooth(gains, period)
	avgLoss, _ := wilderSmooth(losses, period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Stochastic returns %K over the last kPeriod candles and %D as the simple
// mean of the last dPeriod %K values. A flat range or short window reads
// neutral 50/50.
func Stochastic(w []model.Candle, kPeriod, dPeriod int) (k, d float64) {
	n := len(w)
	if kPeriod <= 0 || n < kPeriod {
		return NeutralStochastic, NeutralStochastic
	}

	kAt := func(end int) float64 {
		lo, hi := w[end-kPeriod+1].Low, w[end-kPeriod+1].High
		for i := end - kPeriod + 2; i <= end; i++ {
			if w[i].Low < lo {
				lo = w[i].Low
			}
			if w[i].High > hi {
				hi = w[i].High
			}
		}
		if hi == lo {
			return NeutralStochastic
		}
		return (w[end].Close - lo) / (hi - lo) * 100
	}

	k = kAt(n - 1)

	if dPeriod <= 0 {
		return k, k
	}
	var sum float64
	count := 0
	for end := n - 1; end >= n-dPeriod && end >= kPeriod-1; end-- {
		sum += kAt(end)
		count++
	}
	if count == 0 {
		return k, NeutralStochastic
	}
	return k, sum / float64(count)
}

// WilliamsR returns (HH-C)/(HH-LL) * -100 over the last period candles,
// ranging -100..0. Short or flat windows read the neutral -50.
func WilliamsR(w []model.Candle, period int) float64 {
	n := len(w)
	if period <= 0 || n < period {
		return NeutralWilliamsR
	}
	lo, hi := w[n-period].Low, w[n-period].High
	for i := n - period + 1; i < n; i++ {
		if w[i].Low < lo {
			lo = w[i].Low
		}
		if w[i].High > hi {
			hi = w[i].High
		}
	}
	if hi == lo {
		return NeutralWilliamsR
	}
	return (hi - w[n-1].Close) / (hi - lo) * -100
}

// CCI returns the commodity channel index over the last period typical
// prices, with the conventional 0.015 scaling constant. Short windows or a
// zero mean deviation read the neutral 0.
func CCI(w []model.Candle, period int) float64 {
	n := len(w)
	if period <= 0 || n < period {
		return NeutralCCI
	}

	tps := make([]float64, period)
	for i := 0; i < period; i++ {
		tps[i] = w[n-period+i].TypicalPrice()
	}
	sma := meanOf(tps)

	var dev float64
	for _, tp := range tps {
		dev += abs(tp - sma)
	}
	meanDev := dev / float64(period)
	if meanDev == 0 {
		return NeutralCCI
	}
	return (tps[period-1] - sma) / (0.015 * meanDev)
}

// Momentum assembles the oscillator analysis for the window. RSISlope needs
// per-stream history and is filled by the engine's enrichment step.
func Momentum(w []model.Candle, cfg Config) model.MomentumAnalysis {
	k, d := Stochastic(w, cfg.StochKPeriod, cfg.StochDPeriod)
	return model.MomentumAnalysis{
		RSI:         RSI(w, cfg.RSIPeriod),
		StochasticK: k,
		StochasticD: d,
		WilliamsR:   WilliamsR(w, cfg.WilliamsPeriod),
		CCI:         CCI(w, cfg.CCIPeriod),
	}
}

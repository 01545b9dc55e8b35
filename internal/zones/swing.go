// Package zones holds the three window-driven detectors: swing pivots,
// session liquidity extremes, and supply/demand plan zones. All of them
// are single-writer state machines driven once per processed candle,
// like the rest of the pipeline.
package zones

import "marketflow/internal/model"

// SwingDetector confirms local pivots against a symmetric window: a High
// at index i needs candle[i].High strictly above every other high in
// [i-k, i+k], and mirrored for Lows. Confirmation therefore lags k
// candles behind the stream head; a pivot is emitted exactly once and
// never revised.
type SwingDetector struct {
	k int
}

func NewSwingDetector(k int) *SwingDetector {
	if k < 1 {
		k = 1
	}
	return &SwingDetector{k: k}
}

// Confirm inspects the candidate that just gained its full lookahead,
// i.e. the candle k behind the head of w. Returns zero, one or two
// pivots: a wide bar can be a strict extreme on both sides.
func (d *SwingDetector) Confirm(w []model.Candle) []model.SwingPoint {
	n := len(w)
	if n < 2*d.k+1 {
		return nil
	}
	i := n - 1 - d.k
	c := w[i]

	isHigh, isLow := true, true
	for j := i - d.k; j <= i+d.k; j++ {
		if j == i {
			continue
		}
		if w[j].High >= c.High {
			isHigh = false
		}
		if w[j].Low <= c.Low {
			isLow = false
		}
		if !isHigh && !isLow {
			return nil
		}
	}

	var out []model.SwingPoint
	if isHigh {
		out = append(out, model.SwingPoint{TS: c.TS, Price: c.High, Kind: model.ExtremityHigh})
	}
	if isLow {
		out = append(out, model.SwingPoint{TS: c.TS, Price: c.Low, Kind: model.ExtremityLow})
	}
	return out
}

// Lookback returns the symmetric window half-size.
func (d *SwingDetector) Lookback() int { return d.k }

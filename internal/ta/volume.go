package ta

import "marketflow/internal/model"

// valueAreaFraction is the share of total volume the value area must cover.
const valueAreaFraction = 0.70

// Profile distributes each candle's volume into price buckets by typical
// price and derives the point of control and the 70% value area. An empty
// or zero-volume window returns an empty profile.
func Profile(w []model.Candle, buckets int) model.VolumeProfile {
	if len(w) == 0 || buckets <= 0 {
		return model.VolumeProfile{}
	}

	lo, hi := w[0].Low, w[0].High
	var total float64
	for _, c := range w {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
		total += c.Volume
	}
	if total == 0 || hi <= lo {
		return model.VolumeProfile{}
	}

	width := (hi - lo) / float64(buckets)
	vols := make([]float64, buckets)
	for _, c := range w {
		idx := int((c.TypicalPrice() - lo) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		vols[idx] += c.Volume
	}

	poc := 0
	for i, v := range vols {
		if v > vols[poc] {
			poc = i
		}
	}

	// Grow the value area outward from the point of control, taking the
	// larger neighbor first, until it covers 70% of traded volume.
	covered := vols[poc]
	loIdx, hiIdx := poc, poc
	for covered < valueAreaFraction*total && (loIdx > 0 || hiIdx < buckets-1) {
		var below, above float64 = -1, -1
		if loIdx > 0 {
			below = vols[loIdx-1]
		}
		if hiIdx < buckets-1 {
			above = vols[hiIdx+1]
		}
		if above >= below {
			hiIdx++
			covered += above
		} else {
			loIdx--
			covered += below
		}
	}

	center := func(i int) float64 { return lo + (float64(i)+0.5)*width }
	levels := make([]model.VolumeLevel, 0, buckets)
	for i, v := range vols {
		if v > 0 {
			levels = append(levels, model.VolumeLevel{Price: center(i), Volume: v})
		}
	}

	return model.VolumeProfile{
		Levels:         levels,
		PointOfControl: center(poc),
		ValueAreaHigh:  center(hiIdx),
		ValueAreaLow:   center(loIdx),
	}
}

// VWAP returns the volume-weighted average of typical prices over the
// window. Zero total volume falls back to the last close.
func VWAP(w []model.Candle) float64 {
	n := len(w)
	if n == 0 {
		return 0
	}
	var pv, vol float64
	for _, c := range w {
		pv += c.TypicalPrice() * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return w[n-1].Close
	}
	return pv / vol
}

// RelativeVolume returns the last candle's volume relative to the simple
// mean of the preceding period candles. Short windows or a zero average
// read the neutral 1.0.
func RelativeVolume(w []model.Candle, period int) float64 {
	n := len(w)
	if period <= 0 || n < period+1 {
		return 1.0
	}
	var sum float64
	for i := n - period - 1; i < n-1; i++ {
		sum += w[i].Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 1.0
	}
	return w[n-1].Volume / avg
}

// OBV returns the on-balance volume accumulated across the window.
func OBV(w []model.Candle) float64 {
	var obv float64
	for i := 1; i < len(w); i++ {
		switch {
		case w[i].Close > w[i-1].Close:
			obv += w[i].Volume
		case w[i].Close < w[i-1].Close:
			obv -= w[i].Volume
		}
	}
	return obv
}

// VPT returns the volume-price-trend accumulated across the window.
func VPT(w []model.Candle) float64 {
	var vpt float64
	for i := 1; i < len(w); i++ {
		if w[i-1].Close == 0 {
			continue
		}
		vpt += w[i].Volume * (w[i].Close - w[i-1].Close) / w[i-1].Close
	}
	return vpt
}

// Volume assembles the volume analysis. session scopes the profile and
// VWAP to the current trading day; the cumulative and relative readings
// use the full window.
func Volume(w, session []model.Candle, cfg Config) model.VolumeAnalysis {
	return model.VolumeAnalysis{
		Profile:        Profile(session, cfg.ProfileBuckets),
		VWAP:           VWAP(session),
		RelativeVolume: RelativeVolume(w, cfg.RelVolumePeriod),
		OBV:            OBV(w),
		VPT:            VPT(w),
	}
}

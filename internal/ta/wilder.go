package ta

// wilderSmooth applies Wilder's smoothing to values: seed with the simple
// mean of the first period values, then smoothed = (smoothed*(period-1)+v)/period
// for each remaining value. Returns false when there are fewer than period values.
func wilderSmooth(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	smoothed := sum / float64(period)
	p := float64(period)
	for _, v := range values[period:] {
		smoothed = (smoothed*(p-1) + v) / p
	}
	return smoothed, true
}

// wilderSeries returns the full smoothed sequence, one value per input from
// index period-1 onward (len(values)-period+1 outputs). Used where a second
// smoothing pass runs over the first (DX -> ADX).
func wilderSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	smoothed := sum / float64(period)
	out = append(out, smoothed)
	p := float64(period)
	for _, v := range values[period:] {
		smoothed = (smoothed*(p-1) + v) / p
		out = append(out, smoothed)
	}
	return out
}

// meanOf returns the simple mean of values, or 0 for an empty slice.
func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

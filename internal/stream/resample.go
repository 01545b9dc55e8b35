package stream

import (
	"context"

	"marketflow/internal/model"
)

// Resample aggregates candles into tfMs-wide buckets aligned to the epoch
// (bucket start = ts - ts%tfMs). Input must be timestamp-ordered; output
// is one candle per non-empty bucket, stamped with the bucket start.
func Resample(candles []model.Candle, tfMs int64) []model.Candle {
	if tfMs <= 0 || len(candles) == 0 {
		return candles
	}
	out := make([]model.Candle, 0, len(candles))
	var cur model.Candle
	curBucket := int64(-1)
	for _, c := range candles {
		bucket := c.TS - c.TS%tfMs
		if bucket != curBucket {
			if curBucket >= 0 {
				out = append(out, cur)
			}
			curBucket = bucket
			cur = model.Candle{TS: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if curBucket >= 0 {
		out = append(out, cur)
	}
	return out
}

// SliceSource replays an in-memory candle slice. Used by the trading
// warm-up (over a resampled history) and by tests and the offline sim.
// The channel always closes on exhaustion, bounded range or not.
type SliceSource struct {
	Candles []model.Candle
}

func (s *SliceSource) Stream(ctx context.Context, fromMs, toMs int64) (<-chan model.Candle, error) {
	ch := make(chan model.Candle, 64)
	go func() {
		defer close(ch)
		for _, c := range s.Candles {
			if c.TS < fromMs {
				continue
			}
			if toMs > 0 && c.TS >= toMs {
				return
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

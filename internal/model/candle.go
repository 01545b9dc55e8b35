package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar for the streamed instrument.
// TS is the bar's start time in epoch milliseconds; candles within one
// stream arrive with non-decreasing TS. Candles are immutable once emitted.
type Candle struct {
	TS     int64   `json:"ts"` // epoch ms, bar start
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Time returns the bar start as a UTC time.Time.
func (c *Candle) Time() time.Time {
	return time.UnixMilli(c.TS).UTC()
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// Body returns the absolute open-to-close distance.
func (c *Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-to-low distance.
func (c *Candle) Range() float64 { return c.High - c.Low }

// TypicalPrice returns (high+low+close)/3, the basis for CCI and the
// volume profile buckets.
func (c *Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

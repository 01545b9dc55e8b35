package model

// Extremity distinguishes a high-side from a low-side price point. It is
// shared by swing points and session liquidity extremes.
type Extremity string

const (
	ExtremityHigh Extremity = "High"
	ExtremityLow  Extremity = "Low"
)

// SwingPoint is a confirmed local pivot. Immutable once emitted; the
// detector never revises past pivots.
type SwingPoint struct {
	TS    int64     `json:"ts"` // candle that formed the pivot
	Price float64   `json:"price"`
	Kind  Extremity `json:"kind"`
}

// Market names one of the three fixed liquidity sessions.
type Market string

const (
	MarketNewYork Market = "NewYork"
	MarketAsia    Market = "Asia"
	MarketLondon  Market = "London"
)

// Markets lists the session markets in their canonical order.
var Markets = [3]Market{MarketNewYork, MarketAsia, MarketLondon}

// LiquidityExtreme is the running high or low reached during a session
// window. EndTS is zero while the extreme is active; it is set to the
// superseding candle's timestamp when a later extreme of the same kind
// surpasses it. At most one extreme per (market, kind) is active at a time.
type LiquidityExtreme struct {
	Market  Market    `json:"market"`
	Kind    Extremity `json:"kind"`
	Level   float64   `json:"level"`
	StartTS int64     `json:"start_ts"`
	EndTS   int64     `json:"end_ts,omitempty"` // 0 = active
}

// Active reports whether the extreme has not been superseded.
func (e *LiquidityExtreme) Active() bool { return e.EndTS == 0 }

// ZoneKind distinguishes demand (buy) from supply (sell) plan zones.
type ZoneKind string

const (
	ZoneDemand ZoneKind = "Demand"
	ZoneSupply ZoneKind = "Supply"
)

// PlanZone is a supply/demand price band. Exactly one creation and at most
// one close are ever emitted per zone ID; EndTS is zero while active.
type PlanZone struct {
	ID      string   `json:"id"`
	Kind    ZoneKind `json:"kind"`
	Low     float64  `json:"low"`
	High    float64  `json:"high"`
	StartTS int64    `json:"start_ts"`
	EndTS   int64    `json:"end_ts,omitempty"` // 0 = active
}

// Active reports whether the zone has not been invalidated.
func (z *PlanZone) Active() bool { return z.EndTS == 0 }

// Contains reports whether price falls inside the zone band.
func (z *PlanZone) Contains(price float64) bool {
	return price >= z.Low && price <= z.High
}

// Package stream runs the per-session event pipeline: one goroutine owns
// the stream state, consumes candles from a CandleSource, drives the
// detectors and the decision engine, and publishes events in a fixed
// per-candle order. Readers get immutable deep-copied snapshots; order
// transitions from the execution manager come back in over a channel so
// the owning goroutine stays the single writer.
package stream

import (
	"marketflow/internal/model"
	"marketflow/internal/zones"
)

// state is the mutable per-pipeline world. Only the pipeline goroutine
// touches it.
type state struct {
	day          string // trading-day key of the newest candle
	sessionStart int    // index into candles where the current day begins

	candles   []model.Candle
	analytics []model.AnalysisSnapshot // parallel to candles
	swings    []model.SwingPoint
	orders    []model.Order

	liq   *zones.LiquidityTracker
	zones *zones.PlanZoneTracker
}

func newState() *state {
	return &state{
		liq:   zones.NewLiquidityTracker(),
		zones: zones.NewPlanZoneTracker(),
	}
}

// trim drops the oldest candles once the window exceeds limit, keeping the
// analytics array parallel and the session anchor pointing at the same
// candle. Swings older than the window are dropped with it.
func (s *state) trim(limit int) {
	over := len(s.candles) - limit
	if over <= 0 {
		return
	}
	cutTS := s.candles[over].TS
	s.candles = s.candles[over:]
	s.analytics = s.analytics[over:]
	if s.sessionStart -= over; s.sessionStart < 0 {
		s.sessionStart = 0
	}
	i := 0
	for i < len(s.swings) && s.swings[i].TS < cutTS {
		i++
	}
	s.swings = s.swings[i:]
}

// activeOrder returns the single non-terminal order, or nil.
func (s *state) activeOrder() *model.Order {
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].Active() {
			return &s.orders[i]
		}
	}
	return nil
}

// findOrder locates an order by ID, newest first.
func (s *state) findOrder(id string) *model.Order {
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].ID == id {
			return &s.orders[i]
		}
	}
	return nil
}

// Snapshot is a deep-copied, read-only view of a pipeline's state, safe to
// hold after the pipeline has moved on.
type Snapshot struct {
	TakenTS   int64                    `json:"taken_ts"`
	Phase     model.Phase              `json:"phase"`
	Day       string                   `json:"day"`
	Candles   []model.Candle           `json:"candles"`
	Analytics []model.AnalysisSnapshot `json:"analytics"`
	Swings    []model.SwingPoint       `json:"swings"`
	Extremes  []model.LiquidityExtreme `json:"extremes"` // active only
	Zones     []model.PlanZone         `json:"zones"`    // active only
	Orders    []model.Order            `json:"orders"`
}

// LastCandle returns the newest candle, or false when the stream is empty.
func (s *Snapshot) LastCandle() (model.Candle, bool) {
	if len(s.Candles) == 0 {
		return model.Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

func (s *state) snapshot(phase model.Phase, ts int64) *Snapshot {
	snap := &Snapshot{
		TakenTS:   ts,
		Phase:     phase,
		Day:       s.day,
		Candles:   make([]model.Candle, len(s.candles)),
		Analytics: make([]model.AnalysisSnapshot, len(s.analytics)),
		Swings:    make([]model.SwingPoint, len(s.swings)),
		Extremes:  s.liq.Active(),
		Zones:     s.zones.Active(),
		Orders:    make([]model.Order, len(s.orders)),
	}
	copy(snap.Candles, s.candles)
	copy(snap.Analytics, s.analytics)
	copy(snap.Swings, s.swings)
	copy(snap.Orders, s.orders)
	return snap
}

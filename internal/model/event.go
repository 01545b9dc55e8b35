package model

import "encoding/json"

// EventType tags the payload variant of an Event.
type EventType string

const (
	EventCandle           EventType = "candle"
	EventSwingPoint       EventType = "swing_point"
	EventLiquidityExtreme EventType = "liquidity_extreme"
	EventPlanZone         EventType = "plan_zone"
	EventOrder            EventType = "order"
	EventAnalysis         EventType = "analysis"
)

// Phase labels which logical stream produced an event, so subscribers can
// separate concurrently-running live and replay output.
type Phase string

const (
	PhaseLive     Phase = "live"
	PhasePlanning Phase = "planning"
	PhaseTrading  Phase = "trading"
)

// Event is the tagged union broadcast to subscribers. Exactly one payload
// pointer is set, matching Type. TS orders events within a phase and bounds
// replay cutoffs; Seq is stamped by the distributor at broadcast so
// subscribers can detect gaps.
type Event struct {
	Type  EventType `json:"eventType"`
	TS    int64     `json:"timestamp"`
	Phase Phase     `json:"phase"`
	Seq   uint64    `json:"seq,omitempty"`

	Candle   *Candle           `json:"candle,omitempty"`
	Swing    *SwingPoint       `json:"swingPoint,omitempty"`
	Extreme  *LiquidityExtreme `json:"liquidityExtreme,omitempty"`
	Zone     *PlanZone         `json:"planZone,omitempty"`
	Order    *Order            `json:"order,omitempty"`
	Analysis *AnalysisSnapshot `json:"analysis,omitempty"`
}

// NewCandleEvent wraps a candle.
func NewCandleEvent(phase Phase, c Candle) *Event {
	return &Event{Type: EventCandle, TS: c.TS, Phase: phase, Candle: &c}
}

// NewSwingEvent wraps a confirmed swing point.
func NewSwingEvent(phase Phase, sp SwingPoint) *Event {
	return &Event{Type: EventSwingPoint, TS: sp.TS, Phase: phase, Swing: &sp}
}

// NewExtremeEvent wraps a liquidity extreme creation or update. ts is the
// candle that caused the change (the extreme's own StartTS may be older).
func NewExtremeEvent(phase Phase, ts int64, e LiquidityExtreme) *Event {
	return &Event{Type: EventLiquidityExtreme, TS: ts, Phase: phase, Extreme: &e}
}

// NewZoneEvent wraps a plan zone creation or close.
func NewZoneEvent(phase Phase, ts int64, z PlanZone) *Event {
	return &Event{Type: EventPlanZone, TS: ts, Phase: phase, Zone: &z}
}

// NewOrderEvent wraps an order status change.
func NewOrderEvent(phase Phase, ts int64, o Order) *Event {
	return &Event{Type: EventOrder, TS: ts, Phase: phase, Order: &o}
}

// NewAnalysisEvent wraps the per-candle analytics snapshot.
func NewAnalysisEvent(phase Phase, a AnalysisSnapshot) *Event {
	return &Event{Type: EventAnalysis, TS: a.TS, Phase: phase, Analysis: &a}
}

// PayloadJSON serializes only the variant payload. The distributor wraps it
// in the broadcast envelope exactly once per event.
func (e *Event) PayloadJSON() []byte {
	var v interface{}
	switch e.Type {
	case EventCandle:
		v = e.Candle
	case EventSwingPoint:
		v = e.Swing
	case EventLiquidityExtreme:
		v = e.Extreme
	case EventPlanZone:
		v = e.Zone
	case EventOrder:
		v = e.Order
	case EventAnalysis:
		v = e.Analysis
	default:
		return []byte("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// JSON returns the full event as a single JSON object, the form stored in
// the sqlite event journal. The distributor builds its own envelope.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

package zones

import (
	"github.com/google/uuid"

	"marketflow/internal/model"
)

// PlanZoneTracker derives supply/demand rectangles from engulfing
// reversals that sweep an active liquidity level. A demand zone forms
// when a bullish candle engulfs a bearish one after the pair trades at
// or below an open session Low; supply mirrors it against a session
// High. A zone stays active until a later candle closes back inside it.
// Each zone id gets exactly one creation and at most one close.
type PlanZoneTracker struct {
	active  []*model.PlanZone
	history []*model.PlanZone
}

func NewPlanZoneTracker() *PlanZoneTracker {
	return &PlanZoneTracker{}
}

// Update processes the window head against the open liquidity levels and
// returns copies of every zone closed or created by it, closes first.
func (t *PlanZoneTracker) Update(w []model.Candle, levels []model.LiquidityExtreme) []model.PlanZone {
	n := len(w)
	if n == 0 {
		return nil
	}
	cur := w[n-1]

	var out []model.PlanZone
	kept := t.active[:0]
	for _, z := range t.active {
		if z.StartTS < cur.TS && z.Contains(cur.Close) {
			z.EndTS = cur.TS
			out = append(out, *z)
			continue
		}
		kept = append(kept, z)
	}
	t.active = kept

	if n < 2 {
		return out
	}
	prev := w[n-2]

	if prev.Bearish() && cur.Bullish() && cur.Close > prev.Open && cur.Open <= prev.Close {
		low := min(prev.Low, cur.Low)
		if sweepsLow(low, levels) {
			out = t.open(model.ZoneDemand, low, prev.Open, cur.TS, out)
		}
	}
	if prev.Bullish() && cur.Bearish() && cur.Close < prev.Open && cur.Open >= prev.Close {
		high := max(prev.High, cur.High)
		if sweepsHigh(high, levels) {
			out = t.open(model.ZoneSupply, prev.Open, high, cur.TS, out)
		}
	}
	return out
}

// sweepsLow reports whether the pair low traded at or below an open
// session Low, the liquidity grab that makes the reversal meaningful.
func sweepsLow(low float64, levels []model.LiquidityExtreme) bool {
	for _, e := range levels {
		if e.Kind == model.ExtremityLow && e.Active() && low <= e.Level {
			return true
		}
	}
	return false
}

func sweepsHigh(high float64, levels []model.LiquidityExtreme) bool {
	for _, e := range levels {
		if e.Kind == model.ExtremityHigh && e.Active() && high >= e.Level {
			return true
		}
	}
	return false
}

func (t *PlanZoneTracker) open(kind model.ZoneKind, low, high float64, ts int64, out []model.PlanZone) []model.PlanZone {
	for _, z := range t.active {
		if z.Kind == kind && z.Low <= high && z.High >= low {
			return out // an overlapping zone of this kind is already working
		}
	}
	z := &model.PlanZone{
		ID:      uuid.NewString(),
		Kind:    kind,
		Low:     low,
		High:    high,
		StartTS: ts,
	}
	t.active = append(t.active, z)
	t.history = append(t.history, z)
	return append(out, *z)
}

// Active returns copies of the open zones in creation order.
func (t *PlanZoneTracker) Active() []model.PlanZone {
	out := make([]model.PlanZone, len(t.active))
	for i, z := range t.active {
		out[i] = *z
	}
	return out
}

// All returns copies of every zone seen, closed ones included.
func (t *PlanZoneTracker) All() []model.PlanZone {
	out := make([]model.PlanZone, len(t.history))
	for i, z := range t.history {
		out[i] = *z
	}
	return out
}

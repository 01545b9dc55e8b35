package zones

import (
	"time"

	"marketflow/internal/model"
	"marketflow/internal/session"
)

// slot identifies one tracked extreme: a (market, kind) pair.
type slot struct {
	market model.Market
	kind   model.Extremity
}

// LiquidityTracker maintains the running High/Low extreme per session
// market. While a candle falls inside a market's defining window the
// extreme is updated in place (a High only grows, a Low only shrinks).
// An open extreme closes in two ways: a candle opens a newer window for
// the same slot, or a later extreme of the same kind surpasses its level
// (the liquidity is taken, any market). Closed extremes are retained for
// history; at most one extreme per slot is ever active.
type LiquidityTracker struct {
	active   map[slot]*model.LiquidityExtreme
	windowID map[slot]int64 // start ms of the window the active extreme belongs to
	history  []*model.LiquidityExtreme
}

func NewLiquidityTracker() *LiquidityTracker {
	return &LiquidityTracker{
		active:   make(map[slot]*model.LiquidityExtreme, 6),
		windowID: make(map[slot]int64, 6),
	}
}

// definingWindow returns the session window the candle's timestamp is
// building extremes for, if any. Windows are wall-clock Eastern ranges
// keyed to the candle's own calendar day:
//
//	NewYork: 09:30-16:00 (consumed as "prior day" by the next session)
//	Asia:    18:00 to 02:00 the following day
//	London:  03:00-09:30
func definingWindow(m model.Market, ts int64) (session.Window, bool) {
	t := time.UnixMilli(ts).In(session.Eastern)
	day := session.DayOf(ts)

	var w session.Window
	switch m {
	case model.MarketNewYork:
		w = session.CashSession(day)
	case model.MarketAsia:
		d := day
		if t.Hour() < session.AsiaCloseHour {
			d = day.AddDate(0, 0, -1)
		} else if t.Hour() < session.AsiaOpenHour {
			return session.Window{}, false
		}
		w = session.Window{
			Start: time.Date(d.Year(), d.Month(), d.Day(), session.AsiaOpenHour, 0, 0, 0, session.Eastern),
			End:   time.Date(d.Year(), d.Month(), d.Day()+1, session.AsiaCloseHour, 0, 0, 0, session.Eastern),
		}
	case model.MarketLondon:
		w = session.Window{
			Start: time.Date(day.Year(), day.Month(), day.Day(), session.LondonOpenHour, 0, 0, 0, session.Eastern),
			End:   time.Date(day.Year(), day.Month(), day.Day(), session.LondonCloseHour, session.LondonCloseMinute, 0, 0, session.Eastern),
		}
	default:
		return session.Window{}, false
	}
	if !w.Contains(ts) {
		return session.Window{}, false
	}
	return w, true
}

// Update processes one candle and returns copies of every extreme that
// was created, grown or closed by it, closes before the creations that
// caused them.
func (t *LiquidityTracker) Update(c model.Candle) []model.LiquidityExtreme {
	var out []model.LiquidityExtreme
	for _, m := range model.Markets {
		w, ok := definingWindow(m, c.TS)
		if !ok {
			continue
		}
		id := w.Start.UnixMilli()
		out = t.updateSlot(slot{m, model.ExtremityHigh}, id, c.TS, c.High, out)
		out = t.updateSlot(slot{m, model.ExtremityLow}, id, c.TS, c.Low, out)
	}
	return out
}

func (t *LiquidityTracker) updateSlot(s slot, windowID, ts int64, price float64, out []model.LiquidityExtreme) []model.LiquidityExtreme {
	cur, ok := t.active[s]
	if ok && t.windowID[s] != windowID {
		// A newer window opened for this slot: the old extreme is
		// superseded no matter the level.
		out = t.close(cur, ts, out)
		ok = false
	}

	if !ok {
		cur = &model.LiquidityExtreme{
			Market:  s.market,
			Kind:    s.kind,
			Level:   price,
			StartTS: ts,
		}
		t.active[s] = cur
		t.windowID[s] = windowID
		t.history = append(t.history, cur)
		out = append(out, *cur)
		return t.take(cur, ts, out)
	}

	grew := (s.kind == model.ExtremityHigh && price > cur.Level) ||
		(s.kind == model.ExtremityLow && price < cur.Level)
	if grew {
		cur.Level = price
		out = append(out, *cur)
		out = t.take(cur, ts, out)
	}
	return out
}

// take closes every other open extreme of the same kind whose level the
// later extreme has surpassed: that liquidity has been traded through.
func (t *LiquidityTracker) take(later *model.LiquidityExtreme, ts int64, out []model.LiquidityExtreme) []model.LiquidityExtreme {
	for _, e := range t.history {
		if e == later || !e.Active() || e.Kind != later.Kind {
			continue
		}
		surpassed := (later.Kind == model.ExtremityHigh && later.Level > e.Level) ||
			(later.Kind == model.ExtremityLow && later.Level < e.Level)
		if surpassed {
			out = t.close(e, ts, out)
		}
	}
	return out
}

func (t *LiquidityTracker) close(e *model.LiquidityExtreme, ts int64, out []model.LiquidityExtreme) []model.LiquidityExtreme {
	e.EndTS = ts
	s := slot{e.Market, e.Kind}
	if t.active[s] == e {
		delete(t.active, s)
		delete(t.windowID, s)
	}
	return append(out, *e)
}

// Active returns copies of the currently open extremes in canonical
// market order, High before Low.
func (t *LiquidityTracker) Active() []model.LiquidityExtreme {
	out := make([]model.LiquidityExtreme, 0, len(t.active))
	for _, m := range model.Markets {
		for _, k := range [2]model.Extremity{model.ExtremityHigh, model.ExtremityLow} {
			if e, ok := t.active[slot{m, k}]; ok {
				out = append(out, *e)
			}
		}
	}
	return out
}

// All returns copies of every extreme seen, closed ones included, in
// creation order.
func (t *LiquidityTracker) All() []model.LiquidityExtreme {
	out := make([]model.LiquidityExtreme, len(t.history))
	for i, e := range t.history {
		out[i] = *e
	}
	return out
}

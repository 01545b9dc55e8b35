package zones

import (
	"testing"
	"time"

	"marketflow/internal/model"
	"marketflow/internal/session"
)

// atET builds a candle stamped at the given Eastern wall-clock time.
func atET(y int, mo time.Month, d, hh, mm int, high, low float64) model.Candle {
	ts := time.Date(y, mo, d, hh, mm, 0, 0, session.Eastern).UnixMilli()
	return model.Candle{TS: ts, Open: (high + low) / 2, High: high, Low: low, Close: (high + low) / 2}
}

func activePerSlot(t *testing.T, tr *LiquidityTracker) {
	t.Helper()
	type key struct {
		m model.Market
		k model.Extremity
	}
	open := map[key]int{}
	for _, e := range tr.All() {
		if e.Active() {
			open[key{e.Market, e.Kind}]++
		}
	}
	for k, n := range open {
		if n > 1 {
			t.Fatalf("%s/%s has %d active extremes, want at most 1", k.m, k.k, n)
		}
	}
}

func TestLiquidityTracker_HighGrowsLowShrinks(t *testing.T) {
	tr := NewLiquidityTracker()

	// Three cash-session candles: the High extends to 102.5 and stays
	// there; the Low keeps shrinking to 97.5.
	ev1 := tr.Update(atET(2026, time.June, 10, 9, 30, 100.5, 99.5))
	if len(ev1) != 2 {
		t.Fatalf("first candle: got %d events, want High+Low created", len(ev1))
	}
	ev2 := tr.Update(atET(2026, time.June, 10, 9, 31, 102.5, 99.0))
	if len(ev2) != 2 {
		t.Fatalf("second candle: got %d events, want both slots grown", len(ev2))
	}
	ev3 := tr.Update(atET(2026, time.June, 10, 9, 32, 101.0, 97.5))
	if len(ev3) != 1 || ev3[0].Kind != model.ExtremityLow {
		t.Fatalf("third candle: got %v, want only the Low to move", ev3)
	}

	var high, low model.LiquidityExtreme
	for _, e := range tr.Active() {
		if e.Market != model.MarketNewYork {
			continue
		}
		if e.Kind == model.ExtremityHigh {
			high = e
		} else {
			low = e
		}
	}
	if high.Level != 102.5 {
		t.Errorf("NY high: got %v, want level 102.5", high.Level)
	}
	if low.Level != 97.5 {
		t.Errorf("NY low: got %v, want level 97.5", low.Level)
	}
	activePerSlot(t, tr)
}

func TestLiquidityTracker_WindowAssignment(t *testing.T) {
	cases := []struct {
		name   string
		hh, mm int
		market model.Market
		want   bool
	}{
		{"cash session", 10, 0, model.MarketNewYork, true},
		{"before open", 9, 29, model.MarketNewYork, false},
		{"after close", 16, 30, model.MarketNewYork, false},
		{"asia evening", 19, 0, model.MarketAsia, true},
		{"asia overnight", 1, 0, model.MarketAsia, true},
		{"asia gap", 2, 30, model.MarketAsia, false},
		{"london", 5, 0, model.MarketLondon, true},
		{"london closed", 9, 30, model.MarketLondon, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := time.Date(2026, time.June, 10, tc.hh, tc.mm, 0, 0, session.Eastern).UnixMilli()
			_, ok := definingWindow(tc.market, ts)
			if ok != tc.want {
				t.Errorf("%02d:%02d in %s window: got %v, want %v", tc.hh, tc.mm, tc.market, ok, tc.want)
			}
		})
	}
}

func TestLiquidityTracker_AsiaWindowSpansMidnight(t *testing.T) {
	tr := NewLiquidityTracker()
	tr.Update(atET(2026, time.June, 9, 23, 0, 101, 99))
	ev := tr.Update(atET(2026, time.June, 10, 1, 0, 102, 98))

	// Same Asia window on both sides of midnight: the extremes grow in
	// place, nothing is superseded.
	for _, e := range ev {
		if !e.Active() {
			t.Fatalf("midnight crossing closed an extreme: %+v", e)
		}
	}
	actives := tr.Active()
	if len(actives) != 2 {
		t.Fatalf("got %d active extremes, want 2 (Asia High+Low)", len(actives))
	}
	for _, e := range actives {
		if e.Market != model.MarketAsia {
			t.Errorf("unexpected market %s", e.Market)
		}
	}
	activePerSlot(t, tr)
}

func TestLiquidityTracker_NewWindowSupersedesOld(t *testing.T) {
	tr := NewLiquidityTracker()

	// Tuesday's London session, then Wednesday's first London candle.
	tr.Update(atET(2026, time.June, 9, 4, 0, 101, 99))
	next := atET(2026, time.June, 10, 3, 0, 100.5, 99.5)
	ev := tr.Update(next)

	// Two closes (old High, old Low) and two creations.
	var closed, created int
	for _, e := range ev {
		if e.Active() {
			created++
		} else {
			closed++
			if e.EndTS != next.TS {
				t.Errorf("close stamped %d, want superseding candle ts %d", e.EndTS, next.TS)
			}
		}
	}
	if closed != 2 || created != 2 {
		t.Fatalf("got %d closed / %d created, want 2/2", closed, created)
	}
	if got := len(tr.All()); got != 4 {
		t.Errorf("history: got %d extremes, want 4 (closed ones retained)", got)
	}
	activePerSlot(t, tr)
}

func TestLiquidityTracker_SurpassTakesOlderLevel(t *testing.T) {
	tr := NewLiquidityTracker()
	tr.Update(atET(2026, time.June, 8, 19, 0, 101, 99)) // Asia High 101 / Low 99
	tr.Update(atET(2026, time.June, 9, 3, 0, 100, 99.5))

	// London's high pushes through the Asia High: that level is taken
	// and must close at the surpassing candle's timestamp.
	sweep := atET(2026, time.June, 9, 4, 0, 101.5, 99.6)
	ev := tr.Update(sweep)

	var taken *model.LiquidityExtreme
	for i := range ev {
		if !ev[i].Active() && ev[i].Market == model.MarketAsia {
			taken = &ev[i]
		}
	}
	if taken == nil {
		t.Fatal("Asia High was surpassed but never closed")
	}
	if taken.Kind != model.ExtremityHigh || taken.Level != 101 || taken.EndTS != sweep.TS {
		t.Errorf("taken level: got %+v, want Asia High 101 closed at %d", taken, sweep.TS)
	}

	// The Asia Low (never traded through) stays open alongside both
	// London extremes.
	actives := tr.Active()
	if len(actives) != 3 {
		t.Fatalf("got %d active extremes, want 3", len(actives))
	}
	for _, e := range actives {
		if e.Market == model.MarketAsia && e.Kind == model.ExtremityHigh {
			t.Error("Asia High still active after being surpassed")
		}
	}
	activePerSlot(t, tr)
}

func TestLiquidityTracker_InvariantUnderMixedFeed(t *testing.T) {
	// A two-day walk across every window; after every candle the
	// one-active-per-slot invariant must hold. The walk keeps making
	// higher highs, so each session takes out the highs before it.
	tr := NewLiquidityTracker()
	feed := []model.Candle{
		atET(2026, time.June, 8, 19, 0, 101, 99),   // Asia (Tue's window)
		atET(2026, time.June, 9, 1, 30, 103, 98),   // same Asia window
		atET(2026, time.June, 9, 3, 0, 102, 99),    // London Tue
		atET(2026, time.June, 9, 9, 0, 104, 100),   // London high takes Asia High
		atET(2026, time.June, 9, 9, 30, 105, 101),  // NY open takes London High
		atET(2026, time.June, 9, 15, 59, 106, 100), // NY cash Tue
		atET(2026, time.June, 9, 18, 30, 104, 99),  // Asia (Wed) supersedes, takes NY Low
		atET(2026, time.June, 10, 3, 15, 103, 98),  // London Wed supersedes, takes Asia Low
		atET(2026, time.June, 10, 9, 30, 107, 102), // NY Wed supersedes, takes remaining highs
	}
	for _, c := range feed {
		tr.Update(c)
		activePerSlot(t, tr)
	}

	// Survivors: Wednesday's NY High 107 and Low 102, and the London
	// Wednesday Low 98 that nothing dipped under.
	actives := tr.Active()
	if len(actives) != 3 {
		t.Fatalf("active extremes after full walk: got %d, want 3", len(actives))
	}
	want := map[model.Market]map[model.Extremity]float64{
		model.MarketNewYork: {model.ExtremityHigh: 107, model.ExtremityLow: 102},
		model.MarketLondon:  {model.ExtremityLow: 98},
	}
	for _, e := range actives {
		lvl, ok := want[e.Market][e.Kind]
		if !ok {
			t.Errorf("unexpected survivor %s/%s at %v", e.Market, e.Kind, e.Level)
			continue
		}
		if e.Level != lvl {
			t.Errorf("%s/%s: got level %v, want %v", e.Market, e.Kind, e.Level, lvl)
		}
	}
}

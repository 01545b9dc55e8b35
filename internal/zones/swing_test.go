package zones

import (
	"testing"

	"marketflow/internal/model"
)

func swingCandle(i int, close float64) model.Candle {
	return model.Candle{
		TS:    1_700_000_000_000 + int64(i)*60_000,
		Open:  close,
		High:  close + 0.5,
		Low:   close - 0.5,
		Close: close,
	}
}

func TestSwingDetector_ConfirmsHighAfterLookahead(t *testing.T) {
	// Closes 100, 101, 99 with symmetric wicks: candle 2 is a strict
	// local maximum for k=1. Nothing may be emitted until the third
	// candle provides the lookahead; then exactly one High pivot at
	// candle 2's high.
	d := NewSwingDetector(1)
	w := []model.Candle{swingCandle(0, 100)}

	if got := d.Confirm(w); got != nil {
		t.Fatalf("after candle 1: got %v, want none", got)
	}
	w = append(w, swingCandle(1, 101))
	if got := d.Confirm(w); got != nil {
		t.Fatalf("after candle 2: got %v, want none", got)
	}
	w = append(w, swingCandle(2, 99))
	got := d.Confirm(w)
	if len(got) != 1 {
		t.Fatalf("after candle 3: got %d pivots, want 1", len(got))
	}
	if got[0].Kind != model.ExtremityHigh {
		t.Errorf("kind: got %s, want High", got[0].Kind)
	}
	if got[0].Price != w[1].High {
		t.Errorf("price: got %v, want candle 2 high %v", got[0].Price, w[1].High)
	}
	if got[0].TS != w[1].TS {
		t.Errorf("ts: got %d, want candle 2 ts %d", got[0].TS, w[1].TS)
	}
}

func TestSwingDetector_LowPivotMirror(t *testing.T) {
	d := NewSwingDetector(1)
	w := []model.Candle{swingCandle(0, 101), swingCandle(1, 99), swingCandle(2, 100)}
	got := d.Confirm(w)
	if len(got) != 1 || got[0].Kind != model.ExtremityLow {
		t.Fatalf("got %v, want one Low pivot", got)
	}
	if got[0].Price != w[1].Low {
		t.Errorf("price: got %v, want candle 2 low %v", got[0].Price, w[1].Low)
	}
}

func TestSwingDetector_EqualHighsAreNotStrict(t *testing.T) {
	d := NewSwingDetector(1)
	w := []model.Candle{swingCandle(0, 100), swingCandle(1, 100), swingCandle(2, 99)}
	// Candle 1 and 2 share the same high; strict comparison rejects it.
	if got := d.Confirm(w); got != nil {
		t.Fatalf("got %v, want none for equal highs", got)
	}
}

func TestSwingDetector_WideBarIsBothPivots(t *testing.T) {
	d := NewSwingDetector(1)
	wide := swingCandle(1, 100)
	wide.High, wide.Low = 105, 95
	w := []model.Candle{swingCandle(0, 100), wide, swingCandle(2, 100)}
	got := d.Confirm(w)
	if len(got) != 2 {
		t.Fatalf("got %d pivots, want 2 for an engulfing-range bar", len(got))
	}
	if got[0].Kind != model.ExtremityHigh || got[1].Kind != model.ExtremityLow {
		t.Errorf("order: got %s,%s, want High,Low", got[0].Kind, got[1].Kind)
	}
}

func TestSwingDetector_EachCandidateInspectedOnce(t *testing.T) {
	// Rolling the window forward moves the candidate with it: the pivot
	// at candle 2 is confirmed exactly once, on the call that completes
	// its lookahead, and later calls inspect later candidates.
	d := NewSwingDetector(1)
	closes := []float64{100, 101, 99, 98, 97}
	var w []model.Candle
	var pivots []model.SwingPoint
	for i, c := range closes {
		w = append(w, swingCandle(i, c))
		pivots = append(pivots, d.Confirm(w)...)
	}
	if len(pivots) != 1 {
		t.Fatalf("got %d pivots over the run, want exactly 1", len(pivots))
	}
}

func TestSwingDetector_WiderLookbackNeedsWiderWindow(t *testing.T) {
	d := NewSwingDetector(3)
	w := make([]model.Candle, 0, 7)
	for i, c := range []float64{100, 101, 102, 105, 102, 101, 100} {
		w = append(w, swingCandle(i, c))
	}
	got := d.Confirm(w)
	if len(got) != 1 || got[0].Kind != model.ExtremityHigh || got[0].TS != w[3].TS {
		t.Fatalf("got %v, want one High at the center candle", got)
	}
	// One candle short of the full symmetric window: nothing.
	if got := d.Confirm(w[:6]); got != nil {
		t.Fatalf("got %v, want none without full lookahead", got)
	}
}

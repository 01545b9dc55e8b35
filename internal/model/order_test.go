package model

import "testing"

func TestOrderTransition_LegalPath(t *testing.T) {
	o := &Order{ID: "o1", Type: OrderLong, Status: OrderPlanned, EntryPrice: 100, StopLoss: 98, TakeProfit: 105}

	steps := []struct {
		to OrderStatus
		ts int64
	}{
		{OrderPlaced, 1000},
		{OrderFilled, 2000},
		{OrderProfit, 3000},
	}
	for _, s := range steps {
		if err := o.Transition(s.to, s.ts); err != nil {
			t.Fatalf("Transition(%s): %v", s.to, err)
		}
	}

	if o.PlacedTS != 1000 || o.FilledTS != 2000 || o.CloseTS != 3000 {
		t.Errorf("timestamps: placed=%d filled=%d close=%d", o.PlacedTS, o.FilledTS, o.CloseTS)
	}
	if o.Active() {
		t.Error("terminal order reported Active()")
	}
}

func TestOrderTransition_Illegal(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
	}{
		{"backward_placed_to_planned", OrderPlaced, OrderPlanned},
		{"skip_planned_to_filled", OrderPlanned, OrderFilled},
		{"skip_planned_to_profit", OrderPlanned, OrderProfit},
		{"terminal_profit", OrderProfit, OrderCancelled},
		{"terminal_loss", OrderLoss, OrderFilled},
		{"terminal_cancelled", OrderCancelled, OrderPlaced},
		{"placed_to_loss", OrderPlaced, OrderLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: tt.from}
			if err := o.Transition(tt.to, 1); err == nil {
				t.Errorf("%s -> %s: expected error, got nil", tt.from, tt.to)
			}
		})
	}
}

func TestOrderTransition_MonotonicTimestamps(t *testing.T) {
	o := &Order{Status: OrderPlanned}
	if err := o.Transition(OrderPlaced, 5000); err != nil {
		t.Fatal(err)
	}
	// A fill reported with an earlier clock must clamp to placed ts.
	if err := o.Transition(OrderFilled, 4000); err != nil {
		t.Fatal(err)
	}
	if o.FilledTS < o.PlacedTS {
		t.Errorf("filled %d < placed %d", o.FilledTS, o.PlacedTS)
	}
	if err := o.Transition(OrderLoss, 1000); err != nil {
		t.Fatal(err)
	}
	if o.CloseTS < o.FilledTS {
		t.Errorf("close %d < filled %d", o.CloseTS, o.FilledTS)
	}
}

func TestOrderRealizedR(t *testing.T) {
	tests := []struct {
		name   string
		o      Order
		wantR  float64
		within float64
	}{
		{"long_profit_2.5R", Order{Type: OrderLong, Status: OrderProfit, EntryPrice: 100, StopLoss: 98, TakeProfit: 105}, 2.5, 1e-9},
		{"short_profit_2.5R", Order{Type: OrderShort, Status: OrderProfit, EntryPrice: 100, StopLoss: 102, TakeProfit: 95}, 2.5, 1e-9},
		{"loss_is_minus_1R", Order{Type: OrderLong, Status: OrderLoss, EntryPrice: 100, StopLoss: 98, TakeProfit: 105}, -1, 0},
		{"open_is_zero", Order{Type: OrderLong, Status: OrderFilled, EntryPrice: 100, StopLoss: 98, TakeProfit: 105}, 0, 0},
		{"zero_risk_is_zero", Order{Type: OrderLong, Status: OrderProfit, EntryPrice: 100, StopLoss: 100, TakeProfit: 105}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.o.RealizedR()
			if diff := got - tt.wantR; diff > tt.within || diff < -tt.within {
				t.Errorf("RealizedR() = %f, want %f", got, tt.wantR)
			}
		})
	}
}

func TestEventPayloadJSON_OnePayload(t *testing.T) {
	c := Candle{TS: 1700000000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	ev := NewCandleEvent(PhaseLive, c)
	if ev.Type != EventCandle || ev.TS != c.TS {
		t.Fatalf("event header: type=%s ts=%d", ev.Type, ev.TS)
	}
	if ev.Swing != nil || ev.Order != nil || ev.Zone != nil || ev.Extreme != nil || ev.Analysis != nil {
		t.Error("more than one payload pointer set")
	}
	b := ev.PayloadJSON()
	if len(b) == 0 || b[0] != '{' {
		t.Errorf("payload JSON malformed: %s", b)
	}
}

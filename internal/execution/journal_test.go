package execution

import (
	"path/filepath"
	"testing"

	"marketflow/internal/logging"
	"marketflow/internal/model"
)

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if d := got - want; d > 1e-9 || d < -1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func newTestJournal(t *testing.T, batch int) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewJournal(path, batch, nil, logging.Nop())
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := newTestJournal(t, 32)

	o := plannedOrder("ord-1")
	j.Record(o)
	if err := o.Transition(model.OrderPlaced, o.CreatedTS+1_000); err != nil {
		t.Fatalf("transition: %v", err)
	}
	o.BrokerOrderID = "BRK-1"
	j.Record(o)
	if err := o.Transition(model.OrderFilled, o.CreatedTS+2_000); err != nil {
		t.Fatalf("transition: %v", err)
	}
	j.Record(o)
	if err := o.Transition(model.OrderProfit, o.CreatedTS+3_000); err != nil {
		t.Fatalf("transition: %v", err)
	}
	o.Reason = "target touched"
	j.Record(o)

	o2 := plannedOrder("ord-2")
	o2.Type = model.OrderShort
	o2.StopLoss = 101.2
	o2.TakeProfit = 97
	o2.CreatedTS += 600_000
	o2.Regime = model.RegimeRangingTight
	j.Record(o2)
	if err := o2.Transition(model.OrderCancelled, o2.CreatedTS+500); err != nil {
		t.Fatalf("transition: %v", err)
	}
	o2.Reason = "broker reported rejected"
	j.Record(o2)

	if err := j.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	orders, err := j.Orders("2024-06-11")
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if orders[0].ID != "ord-1" || orders[1].ID != "ord-2" {
		t.Fatalf("order of orders = %s, %s, want creation order", orders[0].ID, orders[1].ID)
	}
	if orders[0].Status != model.OrderProfit || orders[0].BrokerOrderID != "BRK-1" {
		t.Fatalf("ord-1 latest state = %+v", orders[0])
	}
	if orders[0].FilledTS != 1_718_112_602_000 {
		t.Fatalf("ord-1 filled_ts = %d, want 1718112602000", orders[0].FilledTS)
	}
	if orders[1].Status != model.OrderCancelled || orders[1].Reason != "broker reported rejected" {
		t.Fatalf("ord-2 latest state = %+v", orders[1])
	}

	var transitions int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM transitions`).Scan(&transitions); err != nil {
		t.Fatalf("count transitions: %v", err)
	}
	if transitions != 6 {
		t.Fatalf("transitions = %d, want 6 (every Record appends)", transitions)
	}

	rep, err := j.Report("2024-06-11")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Orders != 2 || rep.Wins != 1 || rep.Losses != 0 || rep.Cancelled != 1 {
		t.Fatalf("report = %+v", rep)
	}
	approx(t, "total R", rep.TotalR, 2.5) // 7.5 reward over 3 risk
	approx(t, "win rate", rep.WinRate, 1)
	if rs := rep.ByRegime[string(model.RegimeTrendingHigh)]; rs.Wins != 1 || rs.Orders != 1 {
		t.Fatalf("trend regime stats = %+v", rs)
	}
}

func TestJournalEmptyDay(t *testing.T) {
	j := newTestJournal(t, 32)
	rep, err := j.Report("2099-01-01")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Orders != 0 || rep.TotalR != 0 || len(rep.ByRegime) != 0 {
		t.Fatalf("empty report = %+v", rep)
	}
}

func TestJournalAutoFlushAtBatchSize(t *testing.T) {
	j := newTestJournal(t, 2)

	j.Record(plannedOrder("ord-1"))
	orders, err := j.Orders("2024-06-11")
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("orders = %d before batch fills, want 0", len(orders))
	}

	second := plannedOrder("ord-2")
	second.CreatedTS += 60_000
	j.Record(second) // hits the batch size, flushes inline

	orders, err = j.Orders("2024-06-11")
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d after auto-flush, want 2", len(orders))
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewJournal(path, 8, nil, logging.Nop())
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	j.Record(plannedOrder("ord-1"))
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := NewJournal(path, 8, nil, logging.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	orders, err := j2.Orders("2024-06-11")
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ord-1" {
		t.Fatalf("orders after reopen = %+v", orders)
	}
}

func TestBuildReport(t *testing.T) {
	win := plannedOrder("w1")
	win.Status = model.OrderProfit

	loss := plannedOrder("l1")
	loss.Status = model.OrderLoss

	shortWin := plannedOrder("w2")
	shortWin.Type = model.OrderShort
	shortWin.StopLoss = 101.2
	shortWin.TakeProfit = 97
	shortWin.Status = model.OrderProfit
	shortWin.Regime = model.RegimeRangingTight

	open := plannedOrder("o1")
	open.Status = model.OrderFilled

	cancelled := plannedOrder("c1")
	cancelled.Status = model.OrderCancelled

	rep := BuildReport("2024-06-11", []model.Order{win, loss, shortWin, open, cancelled})

	if rep.Orders != 5 || rep.Wins != 2 || rep.Losses != 1 || rep.Cancelled != 1 || rep.Open != 1 {
		t.Fatalf("report = %+v", rep)
	}
	approx(t, "total R", rep.TotalR, 2.5-1+2.5)
	approx(t, "win rate", rep.WinRate, 2.0/3.0)

	trend := rep.ByRegime[string(model.RegimeTrendingHigh)]
	if trend.Orders != 4 || trend.Wins != 1 || trend.Losses != 1 {
		t.Fatalf("trend stats = %+v", trend)
	}
	approx(t, "trend R", trend.TotalR, 1.5)

	tight := rep.ByRegime[string(model.RegimeRangingTight)]
	if tight.Orders != 1 || tight.Wins != 1 {
		t.Fatalf("tight stats = %+v", tight)
	}
	approx(t, "tight R", tight.TotalR, 2.5)

	if len(rep.Detail) != 5 {
		t.Fatalf("detail rows = %d, want 5", len(rep.Detail))
	}
}

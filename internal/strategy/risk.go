package strategy

import (
	"math"
	"sync"

	"marketflow/internal/model"
	"marketflow/internal/session"
)

// Tracker enforces the account-level trade gates and keeps the daily
// R-multiple ledger. The decision engine writes from the pipeline
// goroutine; the operator API and daily report read concurrently, hence
// the lock.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	dailyR float64
	wins   int
	losses int
	totalR float64 // lifetime, survives rollover
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// CanTrade checks the session and account gates for opening a new trade at
// ts. Returns false with the blocking reason.
func (t *Tracker) CanTrade(ts int64) (bool, string) {
	if session.InBlackout(ts) {
		return false, "inside blackout window"
	}
	if session.NearClose(ts, t.cfg.NearCloseLead) {
		return false, "too close to session close"
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.dailyR >= t.cfg.DailyRCap {
		return false, "daily R cap reached"
	}
	return true, ""
}

// AddRealized folds a closed trade's R-multiple into the ledger.
func (t *Tracker) AddRealized(r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dailyR += r
	t.totalR += r
	if r > 0 {
		t.wins++
	} else if r < 0 {
		t.losses++
	}
}

// ResetDaily clears the per-day ledger at trading-day rollover.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	t.dailyR = 0
	t.mu.Unlock()
}

// DailyR returns today's realized R-multiple sum.
func (t *Tracker) DailyR() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dailyR
}

// Multiplier converts a signal score into a risk multiplier: a
// quarter-Kelly fraction of the account, capped at MaxRiskFraction and
// expressed in multiples of the base RiskFraction. Weak scores size to
// zero; strong scores ride the cap.
func (t *Tracker) Multiplier(score float64) float64 {
	p := clamp(score/100-0.25, 0, 0.95) // score 75 -> 0.50 est. win rate
	b := t.cfg.TargetR
	if b <= 0 {
		return 0
	}
	kelly := (p*(b+1) - 1) / b
	frac := clamp(kelly/4, 0, t.cfg.MaxRiskFraction)
	if t.cfg.RiskFraction <= 0 {
		return 0
	}
	return frac / t.cfg.RiskFraction
}

// Quantity sizes an order: the account fraction at risk divided by the
// per-unit risk in currency.
func (t *Tracker) Quantity(o model.Order, inst model.Instrument) int {
	riskPerUnit := o.RiskPerUnit() * inst.PointValue
	if riskPerUnit <= 0 {
		return 0
	}
	budget := t.cfg.AccountBalance * t.cfg.RiskFraction * o.RiskMultiplier
	return int(math.Floor(budget / riskPerUnit))
}

// Status reports the ledger for the operator API.
func (t *Tracker) Status() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string]interface{}{
		"daily_r":   t.dailyR,
		"daily_cap": t.cfg.DailyRCap,
		"wins":      t.wins,
		"losses":    t.losses,
		"total_r":   t.totalR,
	}
}

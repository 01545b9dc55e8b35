package execution

import "marketflow/internal/model"

// RegimeStats aggregates outcomes for one regime.
type RegimeStats struct {
	Orders int     `json:"orders"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	TotalR float64 `json:"total_r"`
}

// DailyReport summarizes one trading day from the journal.
type DailyReport struct {
	Date      string                 `json:"date"`
	Orders    int                    `json:"orders"`
	Wins      int                    `json:"wins"`
	Losses    int                    `json:"losses"`
	Cancelled int                    `json:"cancelled"`
	Open      int                    `json:"open"`
	TotalR    float64                `json:"total_r"`
	WinRate   float64                `json:"win_rate"`
	ByRegime  map[string]RegimeStats `json:"by_regime"`
	Detail    []model.Order          `json:"detail"`
}

// BuildReport aggregates journalled orders into the daily report. Realized
// R uses the order's own accounting: reward/risk on Profit, -1 on Loss,
// 0 for anything still open or cancelled.
func BuildReport(date string, orders []model.Order) *DailyReport {
	rep := &DailyReport{
		Date:     date,
		ByRegime: make(map[string]RegimeStats),
		Detail:   orders,
	}
	for i := range orders {
		o := orders[i]
		rep.Orders++
		rs := rep.ByRegime[string(o.Regime)]
		rs.Orders++

		r := o.RealizedR()
		rep.TotalR += r
		rs.TotalR += r

		switch o.Status {
		case model.OrderProfit:
			rep.Wins++
			rs.Wins++
		case model.OrderLoss:
			rep.Losses++
			rs.Losses++
		case model.OrderCancelled:
			rep.Cancelled++
		default:
			rep.Open++
		}
		rep.ByRegime[string(o.Regime)] = rs
	}
	if done := rep.Wins + rep.Losses; done > 0 {
		rep.WinRate = float64(rep.Wins) / float64(done)
	}
	return rep
}

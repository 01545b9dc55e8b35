package session

import (
	"fmt"
	"time"

	"marketflow/internal/model"
)

// Eastern is the exchange clock. Every window in this package is computed
// against it so DST transitions move the windows with the exchange.
// Binaries must link the tzdata fallback (import _ "time/tzdata").
var Eastern = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("session: load location %s: %v", name, err))
	}
	return loc
}

// Cash session and control windows, Eastern wall clock.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	// Entries are suppressed through the late-morning chop.
	BlackoutStartHour = 10
	BlackoutEndHour   = 12

	// Overnight liquidity windows.
	AsiaOpenHour      = 18
	AsiaCloseHour     = 2
	LondonOpenHour    = 3
	LondonCloseHour   = 9
	LondonCloseMinute = 30
)

// Window is a half-open [Start, End) time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the ms timestamp falls inside the window.
func (w Window) Contains(ts int64) bool {
	t := time.UnixMilli(ts)
	return !t.Before(w.Start) && t.Before(w.End)
}

// DayOf returns midnight Eastern of the calendar day containing ts.
func DayOf(ts int64) time.Time {
	t := time.UnixMilli(ts).In(Eastern)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Eastern)
}

// DayKey returns the Eastern calendar date of ts as YYYY-MM-DD. Used as
// the trading-day identity for rollover detection and report grouping.
func DayKey(ts int64) string {
	return time.UnixMilli(ts).In(Eastern).Format("2006-01-02")
}

// SameTradingDay reports whether two ms timestamps fall on the same
// Eastern calendar day.
func SameTradingDay(a, b int64) bool {
	ta, tb := time.UnixMilli(a).In(Eastern), time.UnixMilli(b).In(Eastern)
	return ta.Year() == tb.Year() && ta.YearDay() == tb.YearDay()
}

// IsWeekday reports Mon-Fri on the Eastern clock.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay reports a weekday that is not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(Eastern)
	return IsWeekday(et) && !IsHoliday(et)
}

// PrevTradingDay returns midnight Eastern of the trading day before day.
func PrevTradingDay(day time.Time) time.Time {
	d := DayOf(day.UnixMilli()).AddDate(0, 0, -1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// MarketOpen returns 09:30 Eastern on day's date.
func MarketOpen(day time.Time) time.Time {
	d := day.In(Eastern)
	return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
}

// MarketClose returns 16:00 Eastern on day's date.
func MarketClose(day time.Time) time.Time {
	d := day.In(Eastern)
	return time.Date(d.Year(), d.Month(), d.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
}

// CashSession returns the 09:30-16:00 window on day's date.
func CashSession(day time.Time) Window {
	return Window{Start: MarketOpen(day), End: MarketClose(day)}
}

// LiquidityWindow returns the defining window for a market's extremes,
// relative to the stream's current trading day:
//
//	NewYork: prior trading day's full cash session
//	Asia:    prior calendar day 18:00 to current day 02:00
//	London:  current day 03:00 to 09:30
func LiquidityWindow(m model.Market, day time.Time) Window {
	d := DayOf(day.UnixMilli())
	switch m {
	case model.MarketNewYork:
		return CashSession(PrevTradingDay(d))
	case model.MarketAsia:
		prev := d.AddDate(0, 0, -1)
		return Window{
			Start: time.Date(prev.Year(), prev.Month(), prev.Day(), AsiaOpenHour, 0, 0, 0, Eastern),
			End:   time.Date(d.Year(), d.Month(), d.Day(), AsiaCloseHour, 0, 0, 0, Eastern),
		}
	case model.MarketLondon:
		return Window{
			Start: time.Date(d.Year(), d.Month(), d.Day(), LondonOpenHour, 0, 0, 0, Eastern),
			End:   time.Date(d.Year(), d.Month(), d.Day(), LondonCloseHour, LondonCloseMinute, 0, 0, Eastern),
		}
	}
	return Window{}
}

// InBlackout reports whether ts falls inside the 10:00-12:00 no-entry
// window.
func InBlackout(ts int64) bool {
	t := time.UnixMilli(ts).In(Eastern)
	hm := t.Hour()*60 + t.Minute()
	return hm >= BlackoutStartHour*60 && hm < BlackoutEndHour*60
}

// NearClose reports whether ts is within lead of the cash close (or past
// it), when new entries stop making sense.
func NearClose(ts int64, lead time.Duration) bool {
	t := time.UnixMilli(ts).In(Eastern)
	return !t.Before(MarketClose(t).Add(-lead))
}

// IsMarketOpen reports whether ts falls inside the cash session on a
// trading day.
func IsMarketOpen(ts int64) bool {
	t := time.UnixMilli(ts).In(Eastern)
	if !IsTradingDay(t) {
		return false
	}
	return CashSession(t).Contains(ts)
}

// NextOpen returns the next cash open at or after t.
func NextOpen(t time.Time) time.Time {
	et := t.In(Eastern)
	if IsTradingDay(et) && et.Before(MarketOpen(et)) {
		return MarketOpen(et)
	}
	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return MarketOpen(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return MarketOpen(d)
}

// StatusString renders a human-readable market status for the operator
// surface.
func StatusString(t time.Time) string {
	if IsMarketOpen(t.UnixMilli()) {
		d := MarketClose(t.In(Eastern)).Sub(t)
		return fmt.Sprintf("market open, closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	return fmt.Sprintf("market closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

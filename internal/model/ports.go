package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the pipeline and execution logic from concrete
// adapters (Redis bus, SQLite history, REST broker). Each adapter satisfies
// one or more of these.

// CandleSource produces a timestamp-ordered candle sequence. A bounded range
// (toMs > 0) yields a finite channel that is closed when exhausted; an
// open-ended range (toMs == 0) blocks for more until ctx is cancelled.
type CandleSource interface {
	Stream(ctx context.Context, fromMs, toMs int64) (<-chan Candle, error)
}

// EventSink receives every event a pipeline emits. Publish must not block
// the caller beyond a bounded enqueue; slow consumers are the sink's problem.
type EventSink interface {
	Publish(ev *Event)
}

// SnapshotCache persists the latest stream snapshot as raw JSON for
// operator queries and warm restarts.
type SnapshotCache interface {
	SaveSnapshotJSON(ctx context.Context, data []byte) error
	LoadSnapshotJSON(ctx context.Context) ([]byte, error)
}

// Journal records every order state change durably. Record may buffer;
// Flush forces buffered rows out (called on shutdown and day rollover).
type Journal interface {
	Record(o Order)
	Flush() error
}

// StateView is the read-only slice of stream state handed to a Decider on
// each closed candle. Slices alias the pipeline's buffers and are only valid
// for the duration of the call; implementations must copy anything they keep.
type StateView struct {
	Candle      Candle             // the candle that just closed
	Window      []Candle           // rolling window, oldest first, Candle last
	Analytics   []AnalysisSnapshot // parallel to Window
	Swings      []SwingPoint
	Extremes    []LiquidityExtreme // active (unswept) levels
	Zones       []PlanZone         // open zones
	ActiveOrder *Order             // non-terminal order, nil if none
	Session     string             // trading-day key, YYYY-MM-DD
}

// Decider turns stream state into at most one new order per candle. The
// pipeline goroutine is the only caller, so implementations need no locking.
type Decider interface {
	// Step inspects the view and returns a Planned order, or nil to pass.
	Step(v StateView) *Order
	// OnOrderClosed is invoked after a terminal transition is applied.
	OnOrderClosed(o Order)
	// OnDayRollover is invoked when the trading day changes.
	OnDayRollover(day string)
}

// ── Broker Types ──

// Broker order states as reported by the remote REST API.
const (
	BrokerStateAccepted  = "accepted"
	BrokerStateWorking   = "working"
	BrokerStateFilled    = "filled"
	BrokerStateCancelled = "cancelled"
	BrokerStateRejected  = "rejected"
)

// BracketOrder is a one-sends-other request: an entry order whose fill
// activates the linked take-profit and stop-loss legs atomically.
type BracketOrder struct {
	ClientRef  string    `json:"client_ref"` // our order ID, echoed back by the broker
	Symbol     string    `json:"symbol"`
	Side       OrderType `json:"side"`
	Qty        int       `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	TakeProfit float64   `json:"take_profit"`
	StopLoss   float64   `json:"stop_loss"`
}

// BrokerOrder is the broker's view of a working or finished order.
type BrokerOrder struct {
	BrokerID     string  `json:"broker_id"`
	ClientRef    string  `json:"client_ref"`
	State        string  `json:"state"`
	FilledTS     int64   `json:"filled_ts,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`
}

// BrokerPosition is an open or closed position at the broker.
type BrokerPosition struct {
	Symbol      string  `json:"symbol"`
	Qty         int     `json:"qty"` // signed: positive long, negative short
	AvgPrice    float64 `json:"avg_price"`
	OpenTS      int64   `json:"open_ts"`
	CloseTS     int64   `json:"close_ts,omitempty"` // 0 = still open
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
}

// BrokerFill is one execution report.
type BrokerFill struct {
	BrokerID string  `json:"broker_id"`
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Qty      int     `json:"qty"`
	TS       int64   `json:"ts"`
}

// BrokerClient is the remote broker surface the execution manager consumes.
// Implementations retry transient failures internally per the gateway's
// backoff policy; a returned error is definitive.
type BrokerClient interface {
	PlaceBracket(ctx context.Context, ord BracketOrder) (string, error)
	CancelOrder(ctx context.Context, brokerID string) error
	Orders(ctx context.Context) ([]BrokerOrder, error)
	OpenPositions(ctx context.Context) ([]BrokerPosition, error)
	ClosedPositions(ctx context.Context) ([]BrokerPosition, error)
	Fills(ctx context.Context) ([]BrokerFill, error)
}

package model

import (
	"errors"
	"fmt"
)

// OrderType is the trade direction.
type OrderType string

const (
	OrderLong  OrderType = "Long"
	OrderShort OrderType = "Short"
)

// OrderStatus is the lifecycle state of an order. Transitions are
// one-directional; Profit, Loss and Cancelled are terminal.
type OrderStatus string

const (
	OrderPlanned   OrderStatus = "Planned"
	OrderPlaced    OrderStatus = "Placed"
	OrderFilled    OrderStatus = "Filled"
	OrderProfit    OrderStatus = "Profit"
	OrderLoss      OrderStatus = "Loss"
	OrderCancelled OrderStatus = "Cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderProfit || s == OrderLoss || s == OrderCancelled
}

// ErrInvalidTransition is returned for a backward or skipping status change.
var ErrInvalidTransition = errors.New("invalid order transition")

// validTransitions is the closed set of legal status changes.
var validTransitions = map[OrderStatus][]OrderStatus{
	OrderPlanned: {OrderPlaced, OrderCancelled},
	OrderPlaced:  {OrderFilled, OrderCancelled},
	OrderFilled:  {OrderProfit, OrderLoss, OrderCancelled},
}

// Order is a planned or working trade. Created by the decision engine in
// Planned state; the execution manager drives it through the lifecycle.
type Order struct {
	ID             string      `json:"id"`
	Type           OrderType   `json:"type"`
	Status         OrderStatus `json:"status"`
	EntryPrice     float64     `json:"entry_price"`
	StopLoss       float64     `json:"stop_loss"`
	TakeProfit     float64     `json:"take_profit"`
	RiskMultiplier float64     `json:"risk_multiplier"`
	EntryStrategy  string      `json:"entry_strategy"` // regime + rule that produced the order
	Regime         Regime      `json:"regime"`
	Score          float64     `json:"score"`
	CreatedTS      int64       `json:"created_ts"`
	PlacedTS       int64       `json:"placed_ts,omitempty"`
	FilledTS       int64       `json:"filled_ts,omitempty"`
	CloseTS        int64       `json:"close_ts,omitempty"`
	TrailStop      float64     `json:"trail_stop,omitempty"`
	BrokerOrderID  string      `json:"broker_order_id,omitempty"`
	Reason         string      `json:"reason,omitempty"` // cancellation / close reason
}

// Active reports whether the order still occupies the stream's single
// order slot (any non-terminal status).
func (o *Order) Active() bool { return !o.Status.Terminal() }

// RiskPerUnit returns the entry-to-stop distance, the "1R" denominator.
func (o *Order) RiskPerUnit() float64 {
	d := o.EntryPrice - o.StopLoss
	if d < 0 {
		return -d
	}
	return d
}

// RealizedR returns the outcome in R-multiples: +reward/risk on Profit,
// -1 on Loss, 0 otherwise.
func (o *Order) RealizedR() float64 {
	risk := o.RiskPerUnit()
	if risk == 0 {
		return 0
	}
	switch o.Status {
	case OrderProfit:
		reward := o.TakeProfit - o.EntryPrice
		if o.Type == OrderShort {
			reward = o.EntryPrice - o.TakeProfit
		}
		return reward / risk
	case OrderLoss:
		return -1
	default:
		return 0
	}
}

// OrderUpdate is an execution-manager report of a status change. The
// pipeline goroutine drains these and applies them to its own copy of the
// order, keeping the stream state single-writer.
type OrderUpdate struct {
	OrderID       string
	To            OrderStatus
	TS            int64
	BrokerOrderID string
	FillPrice     float64 // entry fill; 0 when not a fill
	Reason        string
}

// Transition moves the order to a new status, enforcing the one-directional
// lifecycle and monotonic timestamps (placed ≤ filled ≤ closed). ts stamps
// the status-specific timestamp field.
func (o *Order) Transition(to OrderStatus, ts int64) error {
	allowed, ok := validTransitions[o.Status]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, o.Status)
	}
	legal := false
	for _, s := range allowed {
		if s == to {
			legal = true
			break
		}
	}
	if !legal {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	switch to {
	case OrderPlaced:
		o.PlacedTS = ts
	case OrderFilled:
		if o.PlacedTS > 0 && ts < o.PlacedTS {
			ts = o.PlacedTS
		}
		o.FilledTS = ts
	case OrderProfit, OrderLoss, OrderCancelled:
		if o.FilledTS > 0 && ts < o.FilledTS {
			ts = o.FilledTS
		} else if o.PlacedTS > 0 && ts < o.PlacedTS {
			ts = o.PlacedTS
		}
		o.CloseTS = ts
	}
	o.Status = to
	return nil
}

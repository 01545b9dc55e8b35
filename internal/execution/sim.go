package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketflow/internal/model"
)

// SimBroker is an in-memory broker for paper runs and tests: brackets fill
// instantly at the entry price plus configured slippage, and no positions
// are ever reported back, so exits stay with the stream's touch detector.
type SimBroker struct {
	mu          sync.Mutex
	seq         int64
	ids         []string
	orders      map[string]model.BrokerOrder
	fills       []model.BrokerFill
	slippageBps int64
}

// NewSimBroker creates a paper broker. slippageBps worsens every fill by
// that many basis points (buys fill higher, sells lower).
func NewSimBroker(slippageBps int64) *SimBroker {
	return &SimBroker{
		orders:      make(map[string]model.BrokerOrder),
		slippageBps: slippageBps,
	}
}

// PlaceBracket accepts and immediately fills the entry leg.
func (s *SimBroker) PlaceBracket(_ context.Context, req model.BracketOrder) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("SIM-%d", s.seq)

	price := req.EntryPrice
	if s.slippageBps > 0 && price > 0 {
		slip := price * float64(s.slippageBps) / 10_000
		if req.Side == model.OrderLong {
			price += slip
		} else {
			price -= slip
		}
	}

	now := time.Now().UnixMilli()
	s.ids = append(s.ids, id)
	s.orders[id] = model.BrokerOrder{
		BrokerID:     id,
		ClientRef:    req.ClientRef,
		State:        model.BrokerStateFilled,
		FilledTS:     now,
		AvgFillPrice: price,
	}
	s.fills = append(s.fills, model.BrokerFill{
		BrokerID: id,
		Symbol:   req.Symbol,
		Price:    price,
		Qty:      req.Qty,
		TS:       now,
	})
	return id, nil
}

// CancelOrder cancels a working order. Sim fills are instant, so this only
// succeeds for orders a test explicitly reset to a working state.
func (s *SimBroker) CancelOrder(_ context.Context, brokerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[brokerID]
	if !ok {
		return fmt.Errorf("cancel %s: unknown order", brokerID)
	}
	if o.State == model.BrokerStateFilled {
		return fmt.Errorf("cancel %s: already filled", brokerID)
	}
	o.State = model.BrokerStateCancelled
	s.orders[brokerID] = o
	return nil
}

// Orders lists every accepted order in placement order.
func (s *SimBroker) Orders(_ context.Context) ([]model.BrokerOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.BrokerOrder, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.orders[id])
	}
	return out, nil
}

// OpenPositions always reports none; the sim delegates exits to the stream.
func (s *SimBroker) OpenPositions(_ context.Context) ([]model.BrokerPosition, error) {
	return nil, nil
}

// ClosedPositions always reports none.
func (s *SimBroker) ClosedPositions(_ context.Context) ([]model.BrokerPosition, error) {
	return nil, nil
}

// Fills returns a copy of all execution reports.
func (s *SimBroker) Fills(_ context.Context) ([]model.BrokerFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.BrokerFill, len(s.fills))
	copy(out, s.fills)
	return out, nil
}

// SetState rewrites one order's state, a hook for exercising cancel paths.
func (s *SimBroker) SetState(brokerID, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[brokerID]; ok {
		o.State = state
		s.orders[brokerID] = o
	}
}

// Package execution drives planned orders through the broker lifecycle and
// journals every transition.
//
// The Manager receives Planned orders from a stream pipeline, sizes and
// places them, and reports every resulting transition back over the
// pipeline's update channel; the pipeline applies them so the stream state
// keeps a single writer. A reconciliation loop periodically folds the
// broker's view of orders and positions into ours; on divergence the
// broker wins, and the pipeline's transition table silently drops whatever
// the local touch detector already beat it to.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/pkg/brokerapi"
)

// Config tunes execution: the traded contract, reconciliation cadence and
// journal placement.
type Config struct {
	Symbol     string  `yaml:"symbol" default:"ES" validate:"required"`
	PointValue float64 `yaml:"point_value" default:"50" validate:"gt=0"`
	TickSize   float64 `yaml:"tick_size" default:"0.25" validate:"gt=0"`
	Currency   string  `yaml:"currency" default:"USD"`

	ReconcileEvery time.Duration `yaml:"reconcile_every" default:"20s" validate:"gt=0"`
	JournalPath    string        `yaml:"journal_path" default:"data/journal.db"`
	JournalBatch   int           `yaml:"journal_batch" default:"32" validate:"gt=0"`

	// Paper routes orders to the in-process SimBroker instead of the REST
	// gateway. SlippageBps only applies there.
	Paper       bool  `yaml:"paper" default:"true"`
	SlippageBps int64 `yaml:"slippage_bps" default:"5" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Symbol:         "ES",
		PointValue:     50,
		TickSize:       0.25,
		Currency:       "USD",
		ReconcileEvery: 20 * time.Second,
		JournalPath:    "data/journal.db",
		JournalBatch:   32,
		Paper:          true,
		SlippageBps:    5,
	}
}

// Instrument returns the contract description used for sizing.
func (c Config) Instrument() model.Instrument {
	return model.Instrument{
		Symbol:     c.Symbol,
		TickSize:   c.TickSize,
		PointValue: c.PointValue,
		Currency:   c.Currency,
	}
}

// UpdateSink receives execution reports. *stream.Pipeline satisfies it.
type UpdateSink interface {
	SendUpdate(ctx context.Context, u model.OrderUpdate) error
}

// Sizer converts a planned order into a contract quantity.
// *strategy.Tracker satisfies it.
type Sizer interface {
	Quantity(o model.Order, inst model.Instrument) int
}

// tracked is the manager's local view of one in-flight order.
type tracked struct {
	ord     model.Order
	stalled bool // placement exhausted retries, retried on reconcile
}

// Manager owns the broker conversation for one pipeline. All fields are
// touched only by the Run goroutine, so there is no locking.
type Manager struct {
	cfg    Config
	inst   model.Instrument
	broker model.BrokerClient
	sizer  Sizer
	prom   *metrics.Metrics
	log    zerolog.Logger

	inflight map[string]*tracked
}

func NewManager(cfg Config, broker model.BrokerClient, sizer Sizer, prom *metrics.Metrics, log zerolog.Logger) *Manager {
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = DefaultConfig().ReconcileEvery
	}
	if prom == nil {
		prom = metrics.New(nil)
	}
	return &Manager{
		cfg:      cfg,
		inst:     cfg.Instrument(),
		broker:   broker,
		sizer:    sizer,
		prom:     prom,
		log:      log,
		inflight: make(map[string]*tracked),
	}
}

// Run consumes planned orders until the channel closes and nothing is left
// in flight, or until ctx is cancelled. On cancellation it pulls unfilled
// entries from the broker before returning.
func (m *Manager) Run(ctx context.Context, planned <-chan model.Order, sink UpdateSink) {
	ticker := time.NewTicker(m.cfg.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.cancelWorking()
			return
		case ord, ok := <-planned:
			if !ok {
				if len(m.inflight) == 0 {
					return
				}
				planned = nil // keep reconciling the leftovers
				continue
			}
			m.place(ctx, ord, sink)
		case <-ticker.C:
			m.reconcile(ctx, sink)
			if planned == nil && len(m.inflight) == 0 {
				return
			}
		}
	}
}

// place sizes and submits one bracket. Three outcomes: Placed with the
// broker id, Cancelled with the rejection reason, or stalled, where the
// order keeps its local state and the reconcile loop retries the placement.
func (m *Manager) place(ctx context.Context, ord model.Order, sink UpdateSink) {
	qty := m.sizer.Quantity(ord, m.inst)
	if qty <= 0 {
		m.report(ctx, sink, model.OrderUpdate{
			OrderID: ord.ID,
			To:      model.OrderCancelled,
			TS:      time.Now().UnixMilli(),
			Reason:  "position size rounded to zero",
		})
		return
	}

	req := model.BracketOrder{
		ClientRef:  ord.ID,
		Symbol:     m.cfg.Symbol,
		Side:       ord.Type,
		Qty:        qty,
		EntryPrice: ord.EntryPrice,
		TakeProfit: ord.TakeProfit,
		StopLoss:   ord.StopLoss,
	}
	brokerID, err := m.broker.PlaceBracket(ctx, req)
	now := time.Now().UnixMilli()

	switch {
	case errors.Is(err, brokerapi.ErrBrokerUnavailable):
		m.log.Warn().Err(err).Str("order", ord.ID).Msg("placement stalled, retrying on reconcile")
		m.report(ctx, sink, model.OrderUpdate{OrderID: ord.ID, Reason: "broker unavailable"})
		m.inflight[ord.ID] = &tracked{ord: ord, stalled: true}

	case err != nil:
		m.log.Error().Err(err).Str("order", ord.ID).Msg("placement rejected")
		m.report(ctx, sink, model.OrderUpdate{
			OrderID: ord.ID,
			To:      model.OrderCancelled,
			TS:      now,
			Reason:  err.Error(),
		})

	default:
		ord.BrokerOrderID = brokerID
		if err := ord.Transition(model.OrderPlaced, now); err != nil {
			m.log.Warn().Err(err).Str("order", ord.ID).Msg("placed order in unexpected state")
		}
		m.inflight[ord.ID] = &tracked{ord: ord}
		m.report(ctx, sink, model.OrderUpdate{
			OrderID:       ord.ID,
			To:            model.OrderPlaced,
			TS:            now,
			BrokerOrderID: brokerID,
		})
		m.log.Info().Str("order", ord.ID).Str("broker_order", brokerID).
			Int("qty", qty).Msg("bracket placed")
	}
}

// reconcile retries stalled placements, then folds the broker's order and
// position state into ours.
func (m *Manager) reconcile(ctx context.Context, sink UpdateSink) {
	var stalled []model.Order
	for id, tr := range m.inflight {
		if tr.stalled {
			stalled = append(stalled, tr.ord)
			delete(m.inflight, id)
		}
	}
	for _, ord := range stalled {
		m.place(ctx, ord, sink)
	}
	if len(m.inflight) == 0 {
		return
	}

	orders, err := m.broker.Orders(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("order reconciliation skipped")
	} else {
		byRef := make(map[string]model.BrokerOrder, len(orders))
		for _, bo := range orders {
			byRef[bo.ClientRef] = bo
		}
		for id, tr := range m.inflight {
			bo, ok := byRef[id]
			if !ok {
				continue
			}
			m.applyBrokerOrder(ctx, sink, tr, bo)
			if tr.ord.Status.Terminal() {
				delete(m.inflight, id)
			}
		}
	}

	filled := false
	for _, tr := range m.inflight {
		if tr.ord.Status == model.OrderFilled {
			filled = true
			break
		}
	}
	if !filled {
		return
	}
	closed, err := m.broker.ClosedPositions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("position reconciliation skipped")
		return
	}
	for id, tr := range m.inflight {
		if tr.ord.Status != model.OrderFilled {
			continue
		}
		pos := matchClosed(closed, m.cfg.Symbol, tr.ord.FilledTS)
		if pos == nil {
			continue
		}
		to := model.OrderLoss
		if pos.RealizedPnL > 0 {
			to = model.OrderProfit
		}
		if err := tr.ord.Transition(to, pos.CloseTS); err != nil {
			m.log.Warn().Err(err).Str("order", id).Msg("close reconciliation rejected")
			delete(m.inflight, id)
			continue
		}
		tr.ord.Reason = "broker reported close"
		m.report(ctx, sink, model.OrderUpdate{
			OrderID: id,
			To:      to,
			TS:      pos.CloseTS,
			Reason:  tr.ord.Reason,
		})
		m.log.Info().Str("order", id).Str("status", string(to)).
			Float64("pnl", pos.RealizedPnL).Msg("position closed at broker")
		delete(m.inflight, id)
	}
}

// applyBrokerOrder resolves one order-state divergence in the broker's
// favor.
func (m *Manager) applyBrokerOrder(ctx context.Context, sink UpdateSink, tr *tracked, bo model.BrokerOrder) {
	switch bo.State {
	case model.BrokerStateFilled:
		if tr.ord.Status != model.OrderPlaced {
			return
		}
		ts := bo.FilledTS
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		if err := tr.ord.Transition(model.OrderFilled, ts); err != nil {
			m.log.Warn().Err(err).Str("order", tr.ord.ID).Msg("fill reconciliation rejected")
			return
		}
		if bo.AvgFillPrice > 0 {
			tr.ord.EntryPrice = bo.AvgFillPrice
		}
		m.report(ctx, sink, model.OrderUpdate{
			OrderID:   tr.ord.ID,
			To:        model.OrderFilled,
			TS:        ts,
			FillPrice: bo.AvgFillPrice,
		})
		m.log.Info().Str("order", tr.ord.ID).Float64("fill", bo.AvgFillPrice).Msg("entry filled")

	case model.BrokerStateCancelled, model.BrokerStateRejected:
		if tr.ord.Status.Terminal() {
			return
		}
		ts := time.Now().UnixMilli()
		if err := tr.ord.Transition(model.OrderCancelled, ts); err != nil {
			m.log.Warn().Err(err).Str("order", tr.ord.ID).Msg("cancel reconciliation rejected")
			return
		}
		tr.ord.Reason = "broker reported " + bo.State
		m.report(ctx, sink, model.OrderUpdate{
			OrderID: tr.ord.ID,
			To:      model.OrderCancelled,
			TS:      ts,
			Reason:  tr.ord.Reason,
		})
	}
}

// matchClosed picks the latest closed position for the symbol that closed
// at or after the order's fill. With the stream's one-active-order
// discipline this is unambiguous.
func matchClosed(closed []model.BrokerPosition, symbol string, filledTS int64) *model.BrokerPosition {
	var best *model.BrokerPosition
	for i := range closed {
		p := &closed[i]
		if p.Symbol != symbol || p.CloseTS == 0 || p.CloseTS < filledTS {
			continue
		}
		if best == nil || p.CloseTS > best.CloseTS {
			best = p
		}
	}
	return best
}

// cancelWorking pulls unfilled entries at shutdown so no bracket rests at
// the broker unsupervised. Filled positions keep their protective legs.
func (m *Manager) cancelWorking() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for id, tr := range m.inflight {
		if tr.ord.Status != model.OrderPlaced || tr.ord.BrokerOrderID == "" {
			continue
		}
		if err := m.broker.CancelOrder(ctx, tr.ord.BrokerOrderID); err != nil {
			m.log.Warn().Err(err).Str("order", id).Msg("shutdown cancel failed")
			continue
		}
		m.log.Info().Str("order", id).Msg("working order cancelled at shutdown")
	}
}

func (m *Manager) report(ctx context.Context, sink UpdateSink, u model.OrderUpdate) {
	if err := sink.SendUpdate(ctx, u); err != nil {
		m.log.Warn().Err(err).Str("order", u.OrderID).Msg("pipeline update dropped")
	}
}

package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marketflow/internal/dist"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
)

// hubPort adapts the distributor to both the pipeline's sink contract and
// the direct-send contract used for trading snapshots.
type hubPort struct {
	hub *dist.Hub
}

func (p hubPort) Publish(ev *model.Event)   { p.hub.Publish(ev) }
func (p hubPort) SendEvent(ev *model.Event) { p.hub.Publish(ev) }

// fanSink is the live pipeline's sink: every event goes to the distributor
// and is queued for the durable event journal. The journal queue never
// blocks the pipeline; under pressure the journal loses events, the
// broadcast does not.
type fanSink struct {
	hub    *dist.Hub
	events chan<- *model.Event
	health *metrics.HealthStatus
	log    zerolog.Logger
}

func (f fanSink) Publish(ev *model.Event) {
	f.hub.Publish(ev)
	if ev.Type == model.EventCandle && f.health != nil {
		f.health.SetLastCandleTime(time.UnixMilli(ev.TS))
	}
	select {
	case f.events <- ev:
	default:
		f.log.Warn().Str("type", string(ev.Type)).Msg("event journal queue full, dropping")
	}
}

// teeSource duplicates a source's candles into a side channel (the history
// writer) while the pipeline consumes the main flow. The side send blocks,
// so the writer's batching bounds the pipeline's ingest rate.
type teeSource struct {
	src  model.CandleSource
	side chan<- model.Candle
}

func (t teeSource) Stream(ctx context.Context, fromMs, toMs int64) (<-chan model.Candle, error) {
	ch, err := t.src.Stream(ctx, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	out := make(chan model.Candle, 64)
	go func() {
		defer close(out)
		for c := range ch {
			select {
			case t.side <- c:
			case <-ctx.Done():
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// liveFeed stitches the bus's retained backlog in front of its live tail.
// The tail subscribes at the stream head, so candles that arrive between
// the backlog read and the subscribe would repeat or go missing without
// the monotonic-TS guard; the guard also swallows overlap between stages.
type liveFeed struct {
	src model.CandleSource
	log zerolog.Logger
}

func (f *liveFeed) Stream(ctx context.Context, fromMs, toMs int64) (<-chan model.Candle, error) {
	if toMs > 0 {
		return f.src.Stream(ctx, fromMs, toMs)
	}
	out := make(chan model.Candle, 64)
	go func() {
		defer close(out)
		var last int64

		backlog, err := f.src.Stream(ctx, fromMs, time.Now().UnixMilli())
		if err != nil {
			f.log.Warn().Err(err).Msg("bus backlog read failed, tailing only")
		} else {
			n := 0
			for c := range backlog {
				if c.TS <= last {
					continue
				}
				last = c.TS
				n++
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			if n > 0 {
				f.log.Info().Int("candles", n).Int64("through", last).Msg("bus backlog replayed")
			}
		}

		tail, err := f.src.Stream(ctx, fromMs, 0)
		if err != nil {
			f.log.Error().Err(err).Msg("bus tail subscribe failed")
			return
		}
		for c := range tail {
			if c.TS <= last {
				continue
			}
			last = c.TS
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

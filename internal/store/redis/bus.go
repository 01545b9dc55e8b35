package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
)

// Publisher lands candles on the live bus: SET of the latest bar, XADD to
// the capped stream, PUBLISH for pub/sub listeners, all in one pipeline
// round trip per candle. Writes run through a circuit breaker; while the
// breaker is open, candles are buffered locally (drop-oldest) and flushed
// when the bus recovers.
type Publisher struct {
	cfg    Config
	client *goredis.Client
	cb     *CircuitBreaker
	prom   *metrics.Metrics
	log    zerolog.Logger

	mu      sync.Mutex
	pending []model.Candle
}

// NewPublisher connects to the bus and arms the circuit breaker.
func NewPublisher(cfg Config, prom *metrics.Metrics, log zerolog.Logger) (*Publisher, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if prom == nil {
		prom = metrics.New(nil)
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 10000
	}

	p := &Publisher{
		cfg:     cfg,
		client:  client,
		prom:    prom,
		log:     log,
		pending: make([]model.Candle, 0, 256),
	}
	p.cb = NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset)
	p.cb.OnStateChange = p.onBreakerChange
	prom.RedisBreakerState.Set(float64(StateClosed))

	log.Info().Str("addr", cfg.Addr).Str("stream", cfg.Stream).Msg("candle bus connected")
	return p, nil
}

// Client exposes the connection for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

func (p *Publisher) onBreakerChange(from, to State) {
	p.prom.RedisBreakerState.Set(float64(to))
	if to == StateOpen {
		p.prom.RedisBreakerTrips.Inc()
	}
	p.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("bus circuit breaker state changed")
	if to == StateClosed {
		go p.flushPending()
	}
}

// Publish writes one candle through the breaker. An open circuit buffers
// the candle locally instead of failing the caller.
func (p *Publisher) Publish(ctx context.Context, c model.Candle) error {
	err := p.cb.Execute(func() error { return p.write(ctx, c) })
	if err == ErrCircuitOpen {
		p.buffer(c)
		return nil
	}
	return err
}

// Run consumes candleCh until it closes or ctx ends.
func (p *Publisher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := p.Publish(ctx, c); err != nil {
				p.log.Error().Err(err).Int64("ts", c.TS).Msg("bus write failed")
			}
		}
	}
}

func (p *Publisher) write(ctx context.Context, c model.Candle) error {
	data := string(c.JSON())
	start := time.Now()

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.cfg.LatestKey, data, p.cfg.LatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, p.cfg.Channel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bus pipeline: %w", err)
	}
	p.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	return nil
}

func (p *Publisher) buffer(c model.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.cfg.MaxBuffered {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, c)
}

// flushPending replays candles buffered while the circuit was open. On a
// write failure the remainder goes back to the buffer for the next close.
func (p *Publisher) flushPending() {
	p.mu.Lock()
	toFlush := p.pending
	p.pending = make([]model.Candle, 0, 256)
	p.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i, c := range toFlush {
		if err := p.write(ctx, c); err != nil {
			p.mu.Lock()
			p.pending = append(toFlush[i:], p.pending...)
			p.mu.Unlock()
			p.log.Error().Err(err).Int("remaining", len(toFlush)-i).Msg("buffered candle flush aborted")
			return
		}
	}
	p.log.Info().Int("candles", len(toFlush)).Msg("flushed buffered candles")
}

// PendingCount returns the number of candles waiting for the bus to
// recover.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// BreakerState reports the breaker for the operator status surface.
func (p *Publisher) BreakerState() State { return p.cb.CurrentState() }

// Close closes the connection. Buffered candles not yet flushed are lost.
func (p *Publisher) Close() error {
	return p.client.Close()
}

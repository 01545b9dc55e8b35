package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"marketflow/internal/model"
)

const replayBatch = 1000

// Source consumes the live bus as a model.CandleSource. Open-ended
// streams block on XREAD for new entries; bounded streams replay the
// stream's retained window and close.
type Source struct {
	cfg    Config
	client *goredis.Client
	log    zerolog.Logger
}

// NewSource connects a bus consumer.
func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Str("stream", cfg.Stream).Msg("candle bus source connected")
	return &Source{cfg: cfg, client: client, log: log}, nil
}

// Stream implements model.CandleSource. Bounded ranges walk the retained
// window once and close; entries older than the trim horizon are gone,
// the SQLite history covers those. Open-ended ranges tail the bus until
// ctx is cancelled.
func (s *Source) Stream(ctx context.Context, fromMs, toMs int64) (<-chan model.Candle, error) {
	ch := make(chan model.Candle, 64)
	if toMs > 0 {
		go s.replay(ctx, fromMs, toMs, ch)
	} else {
		go s.tail(ctx, fromMs, ch)
	}
	return ch, nil
}

// replay pages through the retained stream window with XRANGE, filtering
// to [fromMs, toMs).
func (s *Source) replay(ctx context.Context, fromMs, toMs int64, out chan<- model.Candle) {
	defer close(out)

	start := "-"
	for {
		msgs, err := s.client.XRangeN(ctx, s.cfg.Stream, start, "+", replayBatch).Result()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("bus replay failed")
			}
			return
		}
		if len(msgs) == 0 {
			return
		}

		for _, msg := range msgs {
			c, ok := decodeCandle(msg.Values)
			if !ok {
				s.log.Warn().Str("id", msg.ID).Msg("malformed bus entry skipped")
				continue
			}
			if c.TS < fromMs {
				continue
			}
			if c.TS >= toMs {
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}

		if len(msgs) < replayBatch {
			return
		}
		start = "(" + msgs[len(msgs)-1].ID
	}
}

// tail blocks on XREAD for new bus entries, starting at the stream head.
// fromMs filters re-publishes the producer may land behind us after a
// reconnect.
func (s *Source) tail(ctx context.Context, fromMs int64, out chan<- model.Candle) {
	defer close(out)

	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := s.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{s.cfg.Stream, lastID},
			Count:   100,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			s.log.Warn().Err(err).Msg("bus read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				c, ok := decodeCandle(msg.Values)
				if !ok {
					s.log.Warn().Str("id", msg.ID).Msg("malformed bus entry skipped")
					continue
				}
				if c.TS < fromMs {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Latest returns the most recent bar from the latest-key, nil when the
// key is missing or expired.
func (s *Source) Latest(ctx context.Context) (*model.Candle, error) {
	data, err := s.client.Get(ctx, s.cfg.LatestKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var c model.Candle
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// decodeCandle parses one bus entry (candle JSON under the "data" field).
func decodeCandle(values map[string]interface{}) (model.Candle, bool) {
	data, ok := values["data"].(string)
	if !ok {
		return model.Candle{}, false
	}
	var c model.Candle
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.Candle{}, false
	}
	return c, true
}

// Close closes the connection.
// Client exposes the underlying connection for health checks.
func (s *Source) Client() *goredis.Client { return s.client }

func (s *Source) Close() error {
	return s.client.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"marketflow/internal/model"
)

const defaultPollEvery = 250 * time.Millisecond

// Reader provides read access to the history for replay and operator
// queries. It satisfies model.CandleSource.
type Reader struct {
	db        *sql.DB
	pollEvery time.Duration
	log       zerolog.Logger
}

// NewReader opens a read-side connection to the history database.
func NewReader(path string, log zerolog.Logger) (*Reader, error) {
	db, err := open(path, 2)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db, pollEvery: defaultPollEvery, log: log}, nil
}

// Candles returns history in [fromMs, toMs) ascending. toMs == 0 means no
// upper bound.
func (r *Reader) Candles(fromMs, toMs int64) ([]model.Candle, error) {
	q := `SELECT ts, open, high, low, close, volume FROM candles WHERE ts >= ?`
	args := []interface{}{fromMs}
	if toMs > 0 {
		q += ` AND ts < ?`
		args = append(args, toMs)
	}
	q += ` ORDER BY ts ASC`

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stream implements model.CandleSource over the stored history. A bounded
// range reads once and closes the channel on exhaustion; an open-ended
// range tails the table, polling for rows the writer lands behind us,
// until ctx is cancelled.
func (r *Reader) Stream(ctx context.Context, fromMs, toMs int64) (<-chan model.Candle, error) {
	if toMs > 0 {
		candles, err := r.Candles(fromMs, toMs)
		if err != nil {
			return nil, err
		}
		ch := make(chan model.Candle, 64)
		go func() {
			defer close(ch)
			for _, c := range candles {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}

	ch := make(chan model.Candle, 64)
	go func() {
		defer close(ch)
		next := fromMs
		for {
			candles, err := r.Candles(next, 0)
			if err != nil {
				r.log.Warn().Err(err).Msg("history tail query failed")
			}
			for _, c := range candles {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				}
				next = c.TS + 1
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollEvery):
			}
		}
	}()
	return ch, nil
}

// Events returns the journalled events for an Eastern trading day
// (YYYY-MM-DD) in journal order, as raw JSON payloads.
func (r *Reader) Events(day string) ([]json.RawMessage, error) {
	rows, err := r.db.Query(`SELECT payload FROM events WHERE day = ? ORDER BY seq ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("sqlite query events: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite scan event: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

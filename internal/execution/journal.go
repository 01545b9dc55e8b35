package execution

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/session"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	day             TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	entry_price     REAL NOT NULL,
	stop_loss       REAL NOT NULL,
	take_profit     REAL NOT NULL,
	risk_multiplier REAL NOT NULL DEFAULT 0,
	entry_strategy  TEXT NOT NULL DEFAULT '',
	regime          TEXT NOT NULL DEFAULT '',
	score           REAL NOT NULL DEFAULT 0,
	created_ts      INTEGER NOT NULL,
	placed_ts       INTEGER NOT NULL DEFAULT 0,
	filled_ts       INTEGER NOT NULL DEFAULT 0,
	close_ts        INTEGER NOT NULL DEFAULT 0,
	broker_order_id TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_orders_day ON orders(day);

CREATE TABLE IF NOT EXISTS transitions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id   TEXT NOT NULL,
	status     TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transitions_order ON transitions(order_id);
`

const upsertOrderSQL = `
INSERT INTO orders (id, day, type, status, entry_price, stop_loss, take_profit,
	risk_multiplier, entry_strategy, regime, score, created_ts, placed_ts,
	filled_ts, close_ts, broker_order_id, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status          = excluded.status,
	entry_price     = excluded.entry_price,
	placed_ts       = excluded.placed_ts,
	filled_ts       = excluded.filled_ts,
	close_ts        = excluded.close_ts,
	broker_order_id = excluded.broker_order_id,
	reason          = excluded.reason`

const insertTransitionSQL = `
INSERT INTO transitions (order_id, status, ts, reason) VALUES (?, ?, ?, ?)`

// Journal persists order lifecycle rows to SQLite for audit and the daily
// report. Record buffers in memory and auto-flushes at the batch size;
// Flush writes the batch in one WAL transaction. The pipeline records from
// its own goroutine while report queries arrive from the API goroutine, so
// access stays behind the mutex.
type Journal struct {
	mu    sync.Mutex
	db    *sql.DB
	buf   []model.Order
	batch int
	prom  *metrics.Metrics
	log   zerolog.Logger
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string, batch int, prom *metrics.Metrics, log zerolog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	if batch <= 0 {
		batch = DefaultConfig().JournalBatch
	}
	if prom == nil {
		prom = metrics.New(nil)
	}
	log.Info().Str("path", path).Msg("order journal open")
	return &Journal{db: db, batch: batch, prom: prom, log: log}, nil
}

// Record buffers one order state for the next flush.
func (j *Journal) Record(o model.Order) {
	j.mu.Lock()
	j.buf = append(j.buf, o)
	full := len(j.buf) >= j.batch
	j.mu.Unlock()
	if full {
		if err := j.Flush(); err != nil {
			j.log.Warn().Err(err).Msg("journal auto-flush failed")
		}
	}
}

// Flush writes all buffered rows in one transaction: an upsert keeping the
// orders table at the latest state per order, plus one append per
// transition.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.buf) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	for _, o := range j.buf {
		day := session.DayKey(o.CreatedTS)
		if _, err := tx.Exec(upsertOrderSQL,
			o.ID, day, string(o.Type), string(o.Status),
			o.EntryPrice, o.StopLoss, o.TakeProfit,
			o.RiskMultiplier, o.EntryStrategy, string(o.Regime), o.Score,
			o.CreatedTS, o.PlacedTS, o.FilledTS, o.CloseTS,
			o.BrokerOrderID, o.Reason,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal order upsert: %w", err)
		}
		if _, err := tx.Exec(insertTransitionSQL,
			o.ID, string(o.Status), transitionTS(o), o.Reason,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal transition insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}

	j.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	j.buf = j.buf[:0]
	return nil
}

// transitionTS returns the timestamp belonging to the order's current
// status.
func transitionTS(o model.Order) int64 {
	switch o.Status {
	case model.OrderPlaced:
		return o.PlacedTS
	case model.OrderFilled:
		return o.FilledTS
	case model.OrderProfit, model.OrderLoss, model.OrderCancelled:
		return o.CloseTS
	default:
		return o.CreatedTS
	}
}

// Orders returns the journalled orders for a trading day, oldest first.
func (j *Journal) Orders(date string) ([]model.Order, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT id, type, status, entry_price, stop_loss, take_profit,
		       risk_multiplier, entry_strategy, regime, score, created_ts,
		       placed_ts, filled_ts, close_ts, broker_order_id, reason
		FROM orders WHERE day = ? ORDER BY created_ts`, date)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var typ, status, regime string
		if err := rows.Scan(&o.ID, &typ, &status, &o.EntryPrice, &o.StopLoss,
			&o.TakeProfit, &o.RiskMultiplier, &o.EntryStrategy, &regime,
			&o.Score, &o.CreatedTS, &o.PlacedTS, &o.FilledTS, &o.CloseTS,
			&o.BrokerOrderID, &o.Reason); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		o.Type = model.OrderType(typ)
		o.Status = model.OrderStatus(status)
		o.Regime = model.Regime(regime)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Report builds the daily report for date (YYYY-MM-DD).
func (j *Journal) Report(date string) (*DailyReport, error) {
	orders, err := j.Orders(date)
	if err != nil {
		return nil, err
	}
	return BuildReport(date, orders), nil
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		j.log.Warn().Err(err).Msg("final journal flush failed")
	}
	return j.db.Close()
}

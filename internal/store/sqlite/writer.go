// Package sqlite persists the candle history and the journalled event
// stream. The history is the replay source for planning runs and the
// catch-up source when the live bus window has already trimmed past a
// restart gap.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/session"
)

const (
	defaultBatchSize  = 100
	defaultFlushEvery = 200 * time.Millisecond
)

// Config locates the history database and tunes write batching.
type Config struct {
	Path       string        `yaml:"path" default:"data/candles.db"`
	BatchSize  int           `yaml:"batch_size" default:"100" validate:"gt=0"`
	FlushEvery time.Duration `yaml:"flush_every" default:"200ms" validate:"gt=0"`
}

// Writer is a single-goroutine history writer with transaction batching.
type Writer struct {
	db         *sql.DB
	batchSize  int
	flushEvery time.Duration
	prom       *metrics.Metrics
	log        zerolog.Logger
}

// DB exposes the handle for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens (creating if needed) the history database in WAL mode.
func New(cfg Config, prom *metrics.Metrics, log zerolog.Logger) (*Writer, error) {
	db, err := open(cfg.Path, 1)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if prom == nil {
		prom = metrics.New(nil)
	}

	w := &Writer{
		db:         db,
		batchSize:  cfg.BatchSize,
		flushEvery: cfg.FlushEvery,
		prom:       prom,
		log:        log,
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.flushEvery <= 0 {
		w.flushEvery = defaultFlushEvery
	}
	log.Info().Str("path", cfg.Path).Msg("candle history opened")
	return w, nil
}

func open(path string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			ts     INTEGER PRIMARY KEY,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS events (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			day     TEXT    NOT NULL,
			type    TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			phase   TEXT    NOT NULL,
			payload TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_day ON events(day, seq);
	`)
	return err
}

// Run drains candleCh into batched transactions. A batch commits when it
// reaches BatchSize or when FlushEvery elapses, whichever comes first.
// Blocks until ctx is cancelled or candleCh is closed; the tail batch is
// flushed before returning.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, w.batchSize)
	timer := time.NewTimer(w.flushEvery)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			w.log.Error().Err(err).Int("candles", len(batch)).Msg("batch insert failed")
		} else {
			w.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushEvery)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushEvery)
		}
	}
}

func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.TS, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RunEvents journals the event stream for operator queries, with the same
// batching discipline as Run. Events land keyed by their Eastern trading
// day so GET /api/events can page by date.
func (w *Writer) RunEvents(ctx context.Context, evCh <-chan *model.Event) {
	batch := make([]*model.Event, 0, w.batchSize)
	timer := time.NewTimer(w.flushEvery)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertEvents(batch); err != nil {
			w.log.Error().Err(err).Int("events", len(batch)).Msg("event insert failed")
		} else {
			w.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-evCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushEvery)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushEvery)
		}
	}
}

func (w *Writer) insertEvents(events []*model.Event) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO events (day, type, ts, phase, payload)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.Exec(session.DayKey(e.TS), string(e.Type), e.TS, string(e.Phase), string(e.JSON()))
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LastTimestamp returns the newest stored candle timestamp, 0 when the
// history is empty. Startup catch-up resumes the live source from here.
func (w *Writer) LastTimestamp() (int64, error) {
	var ts sql.NullInt64
	if err := w.db.QueryRow(`SELECT MAX(ts) FROM candles`).Scan(&ts); err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database. Callers flush by closing the Run channels
// first.
func (w *Writer) Close() error {
	return w.db.Close()
}

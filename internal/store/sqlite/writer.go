package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hw3579/trading-bot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/monitor.db"
}

// Writer is the single-connection SQLite writer for candles and signals.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, observes every committed transaction's duration.
	OnCommit func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// NewWriter creates a SQLite Writer, initializing the database with WAL mode and schema.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			source     TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			tf         TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL,
			PRIMARY KEY (source, symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id           TEXT    PRIMARY KEY,
			source       TEXT    NOT NULL,
			symbol       TEXT    NOT NULL,
			tf           TEXT    NOT NULL,
			kind         TEXT    NOT NULL,
			price        REAL    NOT NULL,
			candle_ts    INTEGER NOT NULL,
			generated_at INTEGER NOT NULL,
			strategy     TEXT,
			data         TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_target ON signals (source, symbol, tf, candle_ts);
		CREATE INDEX IF NOT EXISTS idx_signals_generated ON signals (generated_at);
	`)
	return err
}

// SaveCandles upserts a batch of candles for one target in a single transaction.
func (w *Writer) SaveCandles(ctx context.Context, id model.TargetID, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (source, symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, id.Source, id.Symbol, string(id.Timeframe), c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle %s@%d: %w", id.Key(), c.TS.Unix(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	w.observe(start)
	return nil
}

// SaveSignal appends a signal to the journal. A signal whose ID is already
// journaled is ignored.
func (w *Writer) SaveSignal(ctx context.Context, sig *model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	start := time.Now()
	_, err = w.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, source, symbol, tf, kind, price, candle_ts, generated_at, strategy, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Source, sig.Symbol, string(sig.Timeframe), string(sig.Kind), sig.Price,
		sig.CandleTS.Unix(), sig.GeneratedAt.UnixMilli(), sig.Strategy, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	w.observe(start)
	return nil
}

// PruneCandles keeps only the newest keep candles for a target.
func (w *Writer) PruneCandles(ctx context.Context, id model.TargetID, keep int) (int64, error) {
	res, err := w.db.ExecContext(ctx, `
		DELETE FROM candles
		WHERE source = ? AND symbol = ? AND tf = ? AND ts NOT IN (
			SELECT ts FROM candles WHERE source = ? AND symbol = ? AND tf = ?
			ORDER BY ts DESC LIMIT ?
		)
	`, id.Source, id.Symbol, string(id.Timeframe), id.Source, id.Symbol, string(id.Timeframe), keep)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune candles: %w", err)
	}
	return res.RowsAffected()
}

func (w *Writer) observe(start time.Time) {
	if w.OnCommit != nil {
		w.OnCommit(time.Since(start))
	}
}

// Name identifies the writer when it runs as a signal sink.
func (w *Writer) Name() string { return "sqlite" }

// Deliver journals a signal received from the distribution hub.
func (w *Writer) Deliver(ctx context.Context, sig *model.Signal) error {
	return w.SaveSignal(ctx, sig)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hw3579/trading-bot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm start and journal queries.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns the newest limit candles of a target in ascending TS order.
func (r *Reader) ReadCandles(ctx context.Context, id model.TargetID, limit int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE source = ? AND symbol = ? AND tf = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, id.Source, id.Symbol, string(id.Timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var vol sql.NullFloat64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LastSignal returns the newest journaled signal for a target, or nil.
func (r *Reader) LastSignal(ctx context.Context, id model.TargetID) (*model.Signal, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM signals
		WHERE source = ? AND symbol = ? AND tf = ?
		ORDER BY candle_ts DESC
		LIMIT 1
	`, id.Source, id.Symbol, string(id.Timeframe)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read last signal: %w", err)
	}
	return decodeSignal(data)
}

// RecentSignals returns up to limit signals across all targets, newest first.
func (r *Reader) RecentSignals(ctx context.Context, limit int) ([]*model.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM signals ORDER BY generated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []*model.Signal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		sig, err := decodeSignal(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func decodeSignal(data string) (*model.Signal, error) {
	var sig model.Signal
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signal: %w", err)
	}
	return &sig, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Package sqlite persists raw candle series and the signal journal.
package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hw3579/trading-bot/internal/model"
)

var (
	_ model.CandleStore   = (*Store)(nil)
	_ model.SignalJournal = (*Store)(nil)
)

// Store pairs the single writer with a small reader pool over one database file.
type Store struct {
	*Writer
	*Reader
}

// Open creates the parent directory if needed and opens writer and reader.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir %s: %w", dir, err)
		}
	}
	w, err := NewWriter(WriterConfig{DBPath: path})
	if err != nil {
		return nil, err
	}
	r, err := NewReader(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Store{Writer: w, Reader: r}, nil
}

// Close closes both connections.
func (s *Store) Close() error {
	return errors.Join(s.Reader.Close(), s.Writer.Close())
}

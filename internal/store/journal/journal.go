package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store 管理信号生命周期流水，方便后续排查/审计。Every status transition a
// signal goes through lands here, append-only.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Entry is one lifecycle event on a signal.
type Entry struct {
	ID       int64  `json:"id"`
	TS       int64  `json:"ts"`
	SignalID string `json:"signal_id"`
	Event    string `json:"event"`
	Note     string `json:"note,omitempty"`
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signal_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			signal_id TEXT NOT NULL,
			event TEXT NOT NULL,
			note TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_journal_signal ON signal_journal(signal_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

// Record appends one event. The journal is advisory; callers treat failures
// as log-worthy, not fatal.
func (s *Store) Record(ctx context.Context, signalID, event, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("journal store closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_journal (ts, signal_id, event, note) VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), signalID, event, note)
	return err
}

// BySignal returns the events of one signal oldest first.
func (s *Store) BySignal(ctx context.Context, signalID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("journal store closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, signal_id, event, COALESCE(note, '') FROM signal_journal
		 WHERE signal_id = ? ORDER BY id ASC`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.SignalID, &e.Event, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recent returns the latest events across all signals, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("journal store closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, signal_id, event, COALESCE(note, '') FROM signal_journal
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.SignalID, &e.Event, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

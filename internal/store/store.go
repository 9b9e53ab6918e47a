package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/obsidianstack/autoheal/internal/alerts"
)

// Store persists fired alerts to SQLite. It implements alerts.Sink.
// A background loop (Run) periodically deletes alerts older than the
// configured retention.
type Store struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the database at path and applies the
// schema. retention <= 0 disables eviction.
func Open(path string, retention time.Duration) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, retention: retention, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts a. Saving the same alert twice is a no-op.
func (s *Store) Save(ctx context.Context, a alerts.Alert) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts(id, rule_id, ts, severity, title, message, metadata_json)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RuleID, formatTS(a.Timestamp), string(a.Severity), a.Title, a.Message, string(meta),
	)
	if err != nil {
		return fmt.Errorf("store: insert alert %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit stored alerts, oldest first. limit <= 0
// returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]alerts.Alert, error) {
	q := `SELECT id, rule_id, ts, severity, title, message, metadata_json FROM alerts ORDER BY ts DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a        alerts.Alert
			ts, sev  string
			metaJSON string
		)
		if err := rows.Scan(&a.ID, &a.RuleID, &ts, &sev, &a.Title, &a.Message, &metaJSON); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		if a.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("store: alert %s timestamp: %w", a.ID, err)
		}
		a.Severity = alerts.Severity(sev)
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return nil, fmt.Errorf("store: alert %s metadata: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive newest first; flip to oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored alerts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count alerts: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes alerts with a timestamp before cutoff and returns
// how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE ts < ?`, formatTS(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: delete old alerts: %w", err)
	}
	return res.RowsAffected()
}

// Run starts the retention loop. It ticks at a tenth of the retention
// (minimum 1 minute) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.retention <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.retention / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.DeleteOlderThan(ctx, s.now().Add(-s.retention))
			if err != nil {
				slog.Warn("store: retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: evicted old alerts", "count", n)
			}
		}
	}
}

// formatTS renders t in a fixed-width UTC form so text ordering matches
// time ordering.
func formatTS(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

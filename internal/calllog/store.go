// Package calllog provides a persistent audit trail of tool
// invocations. Records are append-only and indexed by timestamp and
// server for aggregation queries.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record represents a single tool invocation.
type Record struct {
	ID         string
	Timestamp  time.Time
	Server     string
	Tool       string
	DurationMS int64
	OK         bool
	Error      string
}

// Summary holds aggregated invocation totals.
type Summary struct {
	TotalCalls    int
	FailedCalls   int
	TotalDuration time.Duration
}

// Store is an append-only SQLite store for tool-call records. All
// public methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a call log at the given database path. The schema is
// created automatically on first use.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open call log database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate call log schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		server      TEXT NOT NULL,
		tool        TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		ok          INTEGER NOT NULL,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_server ON tool_calls(server);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a call record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate call record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, timestamp, server, tool, duration_ms, ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Server,
		rec.Tool,
		rec.DurationMS,
		boolToInt(rec.OK),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// RecordCall implements the manager's audit hook. Write failures are
// logged, never surfaced: the audit trail must not affect calls.
func (s *Store) RecordCall(ctx context.Context, server, tool string, elapsed time.Duration, callErr error) {
	rec := Record{
		Server:     server,
		Tool:       tool,
		DurationMS: elapsed.Milliseconds(),
		OK:         callErr == nil,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	if err := s.Record(ctx, rec); err != nil {
		s.logger.Debug("failed to record tool call", "tool", tool, "error", err)
	}
}

// Summary returns aggregated totals for calls within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(1 - ok), 0), COALESCE(SUM(duration_ms), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	var durationMS int64
	if err := row.Scan(&sum.TotalCalls, &sum.FailedCalls, &durationMS); err != nil {
		return nil, fmt.Errorf("query call summary: %w", err)
	}
	sum.TotalDuration = time.Duration(durationMS) * time.Millisecond
	return &sum, nil
}

// SummaryByServer returns per-server aggregated totals for calls within
// [start, end).
func (s *Store) SummaryByServer(start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.Query(
		`SELECT server, COUNT(*), COALESCE(SUM(1 - ok), 0), COALESCE(SUM(duration_ms), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY server
		 ORDER BY COUNT(*) DESC`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query calls by server: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var server string
		var sum Summary
		var durationMS int64
		if err := rows.Scan(&server, &sum.TotalCalls, &sum.FailedCalls, &durationMS); err != nil {
			return nil, fmt.Errorf("scan calls by server: %w", err)
		}
		sum.TotalDuration = time.Duration(durationMS) * time.Millisecond
		result[server] = &sum
	}
	return result, rows.Err()
}

// Recent returns the most recent call records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, timestamp, server, tool, duration_ms, ok, COALESCE(error, '')
		 FROM tool_calls
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		var ok int
		if err := rows.Scan(&rec.ID, &ts, &rec.Server, &rec.Tool, &rec.DurationMS, &ok, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		rec.OK = ok != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

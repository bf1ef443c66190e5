package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[F].
//
// It keeps scan history in a single-file database. Designed for:
//   - Local scan history on one workstation
//   - Tests with an in-memory database (":memory:")
//
// Schema:
//   - oracle_responses: one row per vector response
//   - oracle_reports: one row per scan
type SQLiteStore[F any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and if needed creates) the database at path.
//
// Example:
//
//	s, err := store.NewSQLiteStore[oracle.ResponseFingerprint]("./scans.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
func NewSQLiteStore[F any](path string) (*SQLiteStore[F], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore[F]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[F]) createTables(ctx context.Context) error {
	responses := `
		CREATE TABLE IF NOT EXISTS oracle_responses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			vector TEXT NOT NULL,
			fingerprint TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, responses); err != nil {
		return fmt.Errorf("failed to create oracle_responses table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_responses_scan ON oracle_responses(scan_id)"); err != nil {
		return fmt.Errorf("failed to create idx_responses_scan: %w", err)
	}

	reports := `
		CREATE TABLE IF NOT EXISTS oracle_reports (
			scan_id TEXT PRIMARY KEY,
			attack TEXT NOT NULL,
			target TEXT NOT NULL,
			verdict TEXT NOT NULL,
			equality TEXT NOT NULL,
			reason TEXT NOT NULL,
			responses INTEGER NOT NULL,
			erroneous_scans INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, reports); err != nil {
		return fmt.Errorf("failed to create oracle_reports table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_reports_attack ON oracle_reports(attack, created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_reports_attack: %w", err)
	}
	return nil
}

// SaveResponses appends responses to a scan inside one transaction.
func (s *SQLiteStore[F]) SaveResponses(ctx context.Context, scanID string, responses []ResponseRecord[F]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return insertResponses(ctx, s.db, scanID, responses)
}

// LoadResponses returns the responses of a scan in insertion order.
func (s *SQLiteStore[F]) LoadResponses(ctx context.Context, scanID string) ([]ResponseRecord[F], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return queryResponses[F](ctx, s.db, scanID)
}

// SaveReport inserts or replaces the report of a scan.
func (s *SQLiteStore[F]) SaveReport(ctx context.Context, report ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	query := `
		INSERT INTO oracle_reports
			(scan_id, attack, target, verdict, equality, reason, responses, erroneous_scans, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			attack = excluded.attack,
			target = excluded.target,
			verdict = excluded.verdict,
			equality = excluded.equality,
			reason = excluded.reason,
			responses = excluded.responses,
			erroneous_scans = excluded.erroneous_scans,
			created_at = excluded.created_at
	`
	if _, err := s.db.ExecContext(ctx, query, reportArgs(report)...); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// LoadReport returns the report of a scan.
func (s *SQLiteStore[F]) LoadReport(ctx context.Context, scanID string) (ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ReportRecord{}, ErrClosed
	}
	return queryReport(ctx, s.db, scanID)
}

// ListReports returns reports newest first.
func (s *SQLiteStore[F]) ListReports(ctx context.Context, attack string, limit int) ([]ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return queryReports(ctx, s.db, attack, limit)
}

// Close closes the database.
func (s *SQLiteStore[F]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

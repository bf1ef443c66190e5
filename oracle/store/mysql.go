package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[F].
//
// Designed for scan databases shared by several scanner hosts.
//
// Schema:
//   - oracle_responses: one row per vector response
//   - oracle_reports: one row per scan
type MySQLStore[F any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to dsn and creates the schema if needed.
//
// Example DSN:
//
//	user:password@tcp(localhost:3306)/scans
//
// Never hardcode credentials; read the DSN from the environment.
func NewMySQLStore[F any](dsn string) (*MySQLStore[F], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[F]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore[F]) createTables(ctx context.Context) error {
	responses := `
		CREATE TABLE IF NOT EXISTS oracle_responses (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			scan_id VARCHAR(64) NOT NULL,
			iteration INT NOT NULL,
			vector VARCHAR(255) NOT NULL,
			fingerprint JSON NOT NULL,
			INDEX idx_scan_id (scan_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, responses); err != nil {
		return fmt.Errorf("failed to create oracle_responses table: %w", err)
	}

	reports := `
		CREATE TABLE IF NOT EXISTS oracle_reports (
			scan_id VARCHAR(64) PRIMARY KEY,
			attack VARCHAR(255) NOT NULL,
			target VARCHAR(255) NOT NULL,
			verdict VARCHAR(32) NOT NULL,
			equality VARCHAR(32) NOT NULL,
			reason TEXT NOT NULL,
			responses INT NOT NULL,
			erroneous_scans INT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_attack_created (attack, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, reports); err != nil {
		return fmt.Errorf("failed to create oracle_reports table: %w", err)
	}
	return nil
}

// SaveResponses appends responses to a scan inside one transaction.
func (m *MySQLStore[F]) SaveResponses(ctx context.Context, scanID string, responses []ResponseRecord[F]) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return insertResponses(ctx, m.db, scanID, responses)
}

// LoadResponses returns the responses of a scan in insertion order.
func (m *MySQLStore[F]) LoadResponses(ctx context.Context, scanID string) ([]ResponseRecord[F], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return queryResponses[F](ctx, m.db, scanID)
}

// SaveReport inserts or replaces the report of a scan.
func (m *MySQLStore[F]) SaveReport(ctx context.Context, report ReportRecord) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	query := `
		INSERT INTO oracle_reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			attack = VALUES(attack),
			target = VALUES(target),
			verdict = VALUES(verdict),
			equality = VALUES(equality),
			reason = VALUES(reason),
			responses = VALUES(responses),
			erroneous_scans = VALUES(erroneous_scans),
			created_at = VALUES(created_at)
	`
	if _, err := m.db.ExecContext(ctx, query, reportArgs(report)...); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// LoadReport returns the report of a scan.
func (m *MySQLStore[F]) LoadReport(ctx context.Context, scanID string) (ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ReportRecord{}, ErrClosed
	}
	return queryReport(ctx, m.db, scanID)
}

// ListReports returns reports newest first.
func (m *MySQLStore[F]) ListReports(ctx context.Context, attack string, limit int) ([]ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return queryReports(ctx, m.db, attack, limit)
}

// Close closes the connection pool.
func (m *MySQLStore[F]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

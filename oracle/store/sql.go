package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queries shared by the SQLite and MySQL stores. Both drivers accept "?"
// placeholders and the column layouts are identical.

const reportColumns = "scan_id, attack, target, verdict, equality, reason, responses, erroneous_scans, created_at"

func reportArgs(r ReportRecord) []interface{} {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return []interface{}{
		r.ScanID, r.Attack, r.Target, r.Verdict, r.Equality, r.Reason,
		r.Responses, r.ErroneousScans, created.UnixNano(),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (ReportRecord, error) {
	var r ReportRecord
	var created int64
	err := row.Scan(&r.ScanID, &r.Attack, &r.Target, &r.Verdict, &r.Equality, &r.Reason,
		&r.Responses, &r.ErroneousScans, &created)
	if err != nil {
		return ReportRecord{}, err
	}
	r.CreatedAt = time.Unix(0, created)
	return r, nil
}

func insertResponses[F any](ctx context.Context, db *sql.DB, scanID string, responses []ResponseRecord[F]) error {
	if len(responses) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO oracle_responses (scan_id, iteration, vector, fingerprint) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range responses {
		data, err := json.Marshal(r.Fingerprint)
		if err != nil {
			return fmt.Errorf("failed to marshal fingerprint of %q: %w", r.Vector, err)
		}
		if _, err := stmt.ExecContext(ctx, scanID, r.Iteration, r.Vector, string(data)); err != nil {
			return fmt.Errorf("failed to insert response: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit responses: %w", err)
	}
	return nil
}

func queryResponses[F any](ctx context.Context, db *sql.DB, scanID string) ([]ResponseRecord[F], error) {
	rows, err := db.QueryContext(ctx,
		"SELECT iteration, vector, fingerprint FROM oracle_responses WHERE scan_id = ? ORDER BY id", scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := []ResponseRecord[F]{}
	for rows.Next() {
		var r ResponseRecord[F]
		var data string
		if err := rows.Scan(&r.Iteration, &r.Vector, &data); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fingerprint of %q: %w", r.Vector, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryReport(ctx context.Context, db *sql.DB, scanID string) (ReportRecord, error) {
	row := db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM oracle_reports WHERE scan_id = ?", scanID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ReportRecord{}, ErrNotFound
	}
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to load report: %w", err)
	}
	return r, nil
}

func queryReports(ctx context.Context, db *sql.DB, attack string, limit int) ([]ReportRecord, error) {
	query := "SELECT " + reportColumns + " FROM oracle_reports"
	var args []interface{}
	if attack != "" {
		query += " WHERE attack = ?"
		args = append(args, attack)
	}
	query += " ORDER BY created_at DESC, scan_id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	out := []ReportRecord{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

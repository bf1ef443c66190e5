// Package store persists oracle scan results: the fingerprint observed for
// every vector and the final report of each scan.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested scan ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store is closed")

// Store provides persistence for oracle scans.
//
// It enables:
//   - Keeping every pooled vector response for offline re-analysis
//   - Comparing verdicts of the same attack across runs or targets
//
// Implementations:
//   - In-memory storage (for testing, see memory.go)
//   - SQLite for local single-file history
//   - MySQL for shared scan databases
//   - Redis for short-lived result caches
//
// Type parameter F is the fingerprint type to persist (must be JSON-serializable).
type Store[F any] interface {
	// SaveResponses appends vector responses to a scan.
	SaveResponses(ctx context.Context, scanID string, responses []ResponseRecord[F]) error

	// LoadResponses returns every response of a scan in the order they were
	// saved. A scan without responses yields an empty slice, not ErrNotFound.
	LoadResponses(ctx context.Context, scanID string) ([]ResponseRecord[F], error)

	// SaveReport stores the report of a scan, replacing an earlier one with the
	// same ScanID.
	SaveReport(ctx context.Context, report ReportRecord) error

	// LoadReport returns the report of a scan or ErrNotFound.
	LoadReport(ctx context.Context, scanID string) (ReportRecord, error)

	// ListReports returns up to limit reports, newest first. An empty attack
	// matches every attack; a non-positive limit means no limit.
	ListReports(ctx context.Context, attack string, limit int) ([]ReportRecord, error)

	// Close releases the underlying resources.
	Close() error
}

// ResponseRecord is one fingerprint observed for one vector.
type ResponseRecord[F any] struct {
	// Iteration is the zero-based repetition the response belongs to.
	Iteration int `json:"iteration"`

	// Vector names the test vector.
	Vector string `json:"vector"`

	// Fingerprint is what the target showed in response to the vector.
	Fingerprint F `json:"fingerprint"`
}

// ReportRecord is the persisted summary of one scan.
type ReportRecord struct {
	ScanID         string    `json:"scan_id"`
	Attack         string    `json:"attack"`
	Target         string    `json:"target"`
	Verdict        string    `json:"verdict"`
	Equality       string    `json:"equality"`
	Reason         string    `json:"reason,omitempty"`
	Responses      int       `json:"responses"`
	ErroneousScans int       `json:"erroneous_scans"`
	CreatedAt      time.Time `json:"created_at"`
}

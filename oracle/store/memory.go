package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store[F].
//
// MemStore is thread-safe. Data is lost when the process terminates.
type MemStore[F any] struct {
	mu        sync.RWMutex
	responses map[string][]ResponseRecord[F] // scanID -> responses
	reports   map[string]ReportRecord        // scanID -> report
	closed    bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[F any]() *MemStore[F] {
	return &MemStore[F]{
		responses: make(map[string][]ResponseRecord[F]),
		reports:   make(map[string]ReportRecord),
	}
}

// SaveResponses appends responses to a scan.
func (m *MemStore[F]) SaveResponses(_ context.Context, scanID string, responses []ResponseRecord[F]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.responses[scanID] = append(m.responses[scanID], responses...)
	return nil
}

// LoadResponses returns a copy of the responses of a scan.
func (m *MemStore[F]) LoadResponses(_ context.Context, scanID string) ([]ResponseRecord[F], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]ResponseRecord[F], len(m.responses[scanID]))
	copy(out, m.responses[scanID])
	return out, nil
}

// SaveReport stores a report.
func (m *MemStore[F]) SaveReport(_ context.Context, report ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.reports[report.ScanID] = report
	return nil
}

// LoadReport returns the report of a scan.
func (m *MemStore[F]) LoadReport(_ context.Context, scanID string) (ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ReportRecord{}, ErrClosed
	}
	r, ok := m.reports[scanID]
	if !ok {
		return ReportRecord{}, ErrNotFound
	}
	return r, nil
}

// ListReports returns reports newest first.
func (m *MemStore[F]) ListReports(_ context.Context, attack string, limit int) ([]ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]ReportRecord, 0, len(m.reports))
	for _, r := range m.reports {
		if attack == "" || r.Attack == attack {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ScanID > out[j].ScanID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (m *MemStore[F]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

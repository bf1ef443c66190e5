package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFingerprint stands in for the oracle's fingerprint type.
type testFingerprint struct {
	LastKind string `json:"last_kind"`
	Lengths  []int  `json:"lengths"`
	Socket   string `json:"socket"`
}

func at(sec int) time.Time {
	return time.Date(2026, 1, 1, 12, 0, sec, 0, time.UTC)
}

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, s Store[testFingerprint]) {
	t.Helper()
	ctx := context.Background()

	t.Run("responses keep insertion order", func(t *testing.T) {
		first := []ResponseRecord[testFingerprint]{
			{Iteration: 0, Vector: "valid", Fingerprint: testFingerprint{LastKind: "HANDSHAKE", Lengths: []int{40}, Socket: "UP"}},
			{Iteration: 0, Vector: "bad-mac", Fingerprint: testFingerprint{LastKind: "ALERT", Lengths: []int{2}, Socket: "CLOSED"}},
		}
		second := []ResponseRecord[testFingerprint]{
			{Iteration: 1, Vector: "valid", Fingerprint: testFingerprint{LastKind: "HANDSHAKE", Lengths: []int{40}, Socket: "UP"}},
		}
		require.NoError(t, s.SaveResponses(ctx, "scan-1", first))
		require.NoError(t, s.SaveResponses(ctx, "scan-1", second))
		require.NoError(t, s.SaveResponses(ctx, "scan-1", nil))

		got, err := s.LoadResponses(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, append(first, second...), got)
	})

	t.Run("unknown scan has no responses", func(t *testing.T) {
		got, err := s.LoadResponses(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("reports round trip and replace", func(t *testing.T) {
		report := ReportRecord{
			ScanID: "scan-1", Attack: "padding-oracle", Target: "127.0.0.1:4433",
			Verdict: "UNKNOWN", Equality: "NONE", Responses: 3, CreatedAt: at(1),
		}
		require.NoError(t, s.SaveReport(ctx, report))

		report.Verdict = "VULNERABLE"
		report.Equality = "SOCKET_STATE"
		report.ErroneousScans = 1
		report.Reason = "responses differ"
		require.NoError(t, s.SaveReport(ctx, report))

		got, err := s.LoadReport(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, "VULNERABLE", got.Verdict)
		assert.Equal(t, "SOCKET_STATE", got.Equality)
		assert.Equal(t, 1, got.ErroneousScans)
		assert.Equal(t, "responses differ", got.Reason)
		assert.True(t, got.CreatedAt.Equal(at(1)), "created_at = %v", got.CreatedAt)
	})

	t.Run("missing report", func(t *testing.T) {
		_, err := s.LoadReport(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list newest first with attack filter", func(t *testing.T) {
		require.NoError(t, s.SaveReport(ctx, ReportRecord{ScanID: "scan-2", Attack: "padding-oracle", Verdict: "NOT_VULNERABLE", Equality: "NONE", CreatedAt: at(2)}))
		require.NoError(t, s.SaveReport(ctx, ReportRecord{ScanID: "scan-3", Attack: "bleichenbacher", Verdict: "UNKNOWN", Equality: "NONE", CreatedAt: at(3)}))

		all, err := s.ListReports(ctx, "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"scan-3", "scan-2", "scan-1"}, scanIDs(all))

		padding, err := s.ListReports(ctx, "padding-oracle", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"scan-2", "scan-1"}, scanIDs(padding))

		limited, err := s.ListReports(ctx, "", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"scan-3"}, scanIDs(limited))
	})
}

func scanIDs(reports []ReportRecord) []string {
	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.ScanID
	}
	return ids
}

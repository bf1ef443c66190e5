package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	runStoreContract(t, NewMemStore[testFingerprint]())
}

func TestMemStore_Closed(t *testing.T) {
	s := NewMemStore[testFingerprint]()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SaveReport(context.Background(), ReportRecord{ScanID: "x"}), ErrClosed)
	_, err := s.LoadResponses(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore[testFingerprint](":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	runStoreContract(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.db")
	ctx := context.Background()

	s, err := NewSQLiteStore[testFingerprint](path)
	require.NoError(t, err)
	require.NoError(t, s.SaveReport(ctx, ReportRecord{ScanID: "scan-1", Attack: "padding-oracle", Verdict: "VULNERABLE", Equality: "LENGTH", CreatedAt: at(1)}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second Close must be a no-op")

	reopened, err := NewSQLiteStore[testFingerprint](path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.LoadReport(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, "LENGTH", got.Equality)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := NewSQLiteStore[testFingerprint](":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ListReports(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient[testFingerprint](client, WithPrefix("test:"))
	defer func() { _ = s.Close() }()

	runStoreContract(t, s)

	assert.True(t, mr.Exists("test:scan:scan-1:report"))
}

func TestRedisStore_TTLPrunesIndex(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient[testFingerprint](client, WithTTL(time.Minute))
	defer func() { _ = s.Close() }()

	require.NoError(t, s.SaveReport(ctx, ReportRecord{ScanID: "old", Attack: "a", CreatedAt: at(1)}))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, s.SaveReport(ctx, ReportRecord{ScanID: "new", Attack: "a", CreatedAt: at(2)}))

	reports, err := s.ListReports(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, scanIDs(reports))

	_, err = s.LoadReport(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestMySQLStore requires a running server:
//
//	export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/test_db"
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL integration test: Set TEST_MYSQL_DSN environment variable to run")
	}

	s, err := NewMySQLStore[testFingerprint](dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	_, _ = s.db.ExecContext(ctx, "DELETE FROM oracle_responses")
	_, _ = s.db.ExecContext(ctx, "DELETE FROM oracle_reports")

	runStoreContract(t, s)
}

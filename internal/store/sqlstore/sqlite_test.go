package sqlstore_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
	"github.com/gyaneshwarpardhi/karmachain/internal/store/sqlstore"
	"github.com/gyaneshwarpardhi/karmachain/internal/store/storetest"
)

func TestSQLiteContract(t *testing.T) {
	suite.Run(t, &storetest.ContractSuite{New: func() store.Store {
		s, err := sqlstore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "karma.db"))
		require.NoError(t, err)
		return s
	}})
}

// Every write survives a reply lost after commit: the retry finds the
// committed row instead of failing on a constraint or applying twice.
func TestSQLiteLostAckContract(t *testing.T) {
	suite.Run(t, &storetest.ContractSuite{New: func() store.Store {
		s, err := sqlstore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "karma.db"))
		require.NoError(t, err)
		return store.WithRetry(storetest.NewLostAck(s), store.RetryOptions{
			MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond,
		})
	}})
}

func TestAuditAppendSurvivesLostAck(t *testing.T) {
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "karma.db"))
	require.NoError(t, err)
	defer s.Close()
	lossy := storetest.NewLostAck(s)
	st := store.WithRetry(lossy, store.RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond})

	require.NoError(t, st.AppendAudit(ctx, karma.AuditRecord{ID: "a1", EventID: "e1", UserID: "u1", Timestamp: time.Now()}))
	require.Equal(t, 1, lossy.Dropped("append_audit"))

	recs, err := s.ListAudit(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "karma.db")
	ctx := context.Background()

	s, err := sqlstore.Open(ctx, "sqlite", path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", s.Dialect())
	require.NoError(t, s.Close())

	s, err = sqlstore.Open(ctx, "sqlite", path)
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "oracle", "x")
	require.ErrorContains(t, err, "unsupported driver")
}

func TestMigratesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karma.db")
	ctx := context.Background()

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE schema_version (version INTEGER NOT NULL)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
		`CREATE TABLE audit_records (seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL UNIQUE,
			event_id TEXT NOT NULL, user_id TEXT NOT NULL, doc TEXT NOT NULL, created_at TEXT NOT NULL)`,
		`CREATE TABLE debts (id TEXT PRIMARY KEY, debtor TEXT NOT NULL, creditor TEXT NOT NULL,
			magnitude DOUBLE PRECISION NOT NULL, origin_event_id TEXT NOT NULL, created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL, resolved INTEGER NOT NULL DEFAULT 0, resolved_at TEXT, resolution_event_id TEXT)`,
		`INSERT INTO debts (id, debtor, creditor, magnitude, origin_event_id, created_at, updated_at)
			VALUES ('d1', 'a', 'b', 4, 'e1', '2026-05-01T09:00:00.000000000Z', '2026-05-01T09:00:00.000000000Z')`,
	} {
		_, err := raw.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, raw.Close())

	s, err := sqlstore.Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.RepayDebt(ctx, "d1", 1, "r1", time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.InDelta(t, 3.0, d.Magnitude, 1e-9)
	require.InDelta(t, 1.0, d.Repaid, 1e-9)
}

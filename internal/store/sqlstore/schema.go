package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const currentSchemaVersion = 2

func (s *Store) schemaV1() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ledgers (
			user_id    TEXT PRIMARY KEY,
			doc        TEXT NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_deltas (
			delta_id   TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			doc        TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_deltas_user ON ledger_deltas (user_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_records (
			seq        %s,
			id         TEXT NOT NULL UNIQUE,
			event_id   TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			doc        TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`, s.d.serial),
		`CREATE INDEX IF NOT EXISTS audit_records_user ON audit_records (user_id, seq)`,
		`CREATE TABLE IF NOT EXISTS debts (
			id                  TEXT PRIMARY KEY,
			debtor              TEXT NOT NULL,
			creditor            TEXT NOT NULL,
			magnitude           DOUBLE PRECISION NOT NULL,
			origin_event_id     TEXT NOT NULL,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,
			resolved            INTEGER NOT NULL DEFAULT 0,
			resolved_at         TEXT,
			resolution_event_id TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS debts_open_pair ON debts (debtor, creditor) WHERE resolved = 0`,
		`CREATE INDEX IF NOT EXISTS debts_creditor ON debts (creditor)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			doc        TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS plans_user ON plans (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS policy (
			id         INTEGER PRIMARY KEY,
			doc        TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
}

// schemaV2 adds repayment and transfer columns, the debt contribution
// journal that keys debt writes, and one audit record per event.
func schemaV2() []string {
	return []string{
		`ALTER TABLE debts ADD COLUMN repaid DOUBLE PRECISION NOT NULL DEFAULT 0`,
		`ALTER TABLE debts ADD COLUMN resolution TEXT`,
		`ALTER TABLE debts ADD COLUMN transferred_to TEXT`,
		`CREATE TABLE IF NOT EXISTS debt_contributions (
			event_id   TEXT PRIMARY KEY,
			debt_id    TEXT NOT NULL,
			magnitude  DOUBLE PRECISION NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS audit_records_event ON audit_records (event_id)`,
	}
}

// migrate brings the schema from its recorded version up to
// currentSchemaVersion in one transaction.
func (s *Store) migrate(ctx context.Context) error {
	steps := [][]string{s.schemaV1(), schemaV2()}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return fmt.Errorf("migrate: schema_version: %w", err)
		}
		var v int
		err := s.queryRow(ctx, tx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
		fresh := noRows(err)
		switch {
		case fresh:
			v = 0
		case err != nil:
			return fmt.Errorf("read schema version: %w", err)
		case v > currentSchemaVersion:
			return fmt.Errorf("schema version %d is newer than this build (%d)", v, currentSchemaVersion)
		}
		for i := v; i < currentSchemaVersion; i++ {
			for _, stmt := range steps[i] {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migrate v%d: %s: %w", i+1, firstLine(stmt), err)
				}
			}
		}
		if fresh {
			_, err = s.exec(ctx, tx, `INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion)
		} else if v < currentSchemaVersion {
			_, err = s.exec(ctx, tx, `UPDATE schema_version SET version = ?`, currentSchemaVersion)
		}
		return err
	})
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

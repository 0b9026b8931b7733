package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

func (s *Store) GetLedger(ctx context.Context, userID string) (*ledger.Ledger, error) {
	return s.readLedger(ctx, s.db, userID, "")
}

func (s *Store) readLedger(ctx context.Context, q execer, userID, suffix string) (*ledger.Ledger, error) {
	var doc string
	err := s.queryRow(ctx, q, `SELECT doc FROM ledgers WHERE user_id = ?`+suffix, userID).Scan(&doc)
	if noRows(err) {
		return nil, karma.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", userID, err)
	}
	l := ledger.New(userID)
	if err := json.Unmarshal([]byte(doc), l); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", userID, err)
	}
	if l.Balances == nil {
		l.Balances = make(map[ledger.TokenKind]float64)
	}
	return l, nil
}

// ApplyDelta locks the ledger row, skips journalled delta ids, and writes the
// new ledger and the journal entry in one transaction.
func (s *Store) ApplyDelta(ctx context.Context, d ledger.Delta) (*ledger.Ledger, bool, error) {
	var (
		out     *ledger.Ledger
		applied bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		empty, _ := json.Marshal(ledger.New(d.UserID))
		if _, err := s.exec(ctx, tx,
			`INSERT INTO ledgers (user_id, doc, version, updated_at) VALUES (?, ?, 0, ?) ON CONFLICT (user_id) DO NOTHING`,
			d.UserID, string(empty), ts(d.At)); err != nil {
			return fmt.Errorf("ensure ledger row: %w", err)
		}
		cur, err := s.readLedger(ctx, tx, d.UserID, s.d.forUpdate)
		if err != nil {
			return err
		}

		var one int
		err = s.queryRow(ctx, tx, `SELECT 1 FROM ledger_deltas WHERE delta_id = ?`, d.ID).Scan(&one)
		switch {
		case err == nil:
			out = cur
			return nil
		case !noRows(err):
			return fmt.Errorf("check delta journal: %w", err)
		}

		next, err := ledger.Apply(cur, d)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode ledger: %w", err)
		}
		ddoc, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode delta: %w", err)
		}
		if _, err := s.exec(ctx, tx,
			`UPDATE ledgers SET doc = ?, version = ?, updated_at = ? WHERE user_id = ?`,
			string(doc), next.Version, ts(next.UpdatedAt), d.UserID); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
		if _, err := s.exec(ctx, tx,
			`INSERT INTO ledger_deltas (delta_id, user_id, doc, applied_at) VALUES (?, ?, ?, ?)`,
			d.ID, d.UserID, string(ddoc), ts(d.At)); err != nil {
			return fmt.Errorf("journal delta: %w", err)
		}
		out, applied = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (s *Store) GetDelta(ctx context.Context, deltaID string) (ledger.Delta, error) {
	var (
		d   ledger.Delta
		doc string
	)
	err := s.queryRow(ctx, s.db, `SELECT doc FROM ledger_deltas WHERE delta_id = ?`, deltaID).Scan(&doc)
	if noRows(err) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("read delta %s: %w", deltaID, err)
	}
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return d, fmt.Errorf("decode delta %s: %w", deltaID, err)
	}
	return d, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

const debtColumns = `id, debtor, creditor, magnitude, repaid, origin_event_id, created_at, updated_at, resolved, resolved_at, resolution_event_id, resolution, transferred_to`

type scanner interface {
	Scan(dest ...any) error
}

func scanDebt(r scanner) (karma.DebtRelationship, error) {
	var (
		d                    karma.DebtRelationship
		created, updated     string
		resolved             int
		resolvedAt, resolver sql.NullString
		how, to              sql.NullString
	)
	if err := r.Scan(&d.ID, &d.DebtorID, &d.CreditorID, &d.Magnitude, &d.Repaid, &d.OriginEventID,
		&created, &updated, &resolved, &resolvedAt, &resolver, &how, &to); err != nil {
		return d, err
	}
	var err error
	if d.CreatedAt, err = parseTS(created); err != nil {
		return d, fmt.Errorf("debt %s created_at: %w", d.ID, err)
	}
	if d.UpdatedAt, err = parseTS(updated); err != nil {
		return d, fmt.Errorf("debt %s updated_at: %w", d.ID, err)
	}
	d.Resolved = resolved != 0
	if resolvedAt.Valid {
		t, err := parseTS(resolvedAt.String)
		if err != nil {
			return d, fmt.Errorf("debt %s resolved_at: %w", d.ID, err)
		}
		d.ResolvedAt = &t
	}
	d.ResolutionEventID = resolver.String
	d.Resolution = karma.DebtResolution(how.String)
	d.TransferredTo = to.String
	return d, nil
}

func nullable(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

// contribution returns the edge an earlier write keyed by key changed.
func (s *Store) contribution(ctx context.Context, q execer, key string) (karma.DebtRelationship, error) {
	if key == "" {
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	d, err := scanDebt(s.queryRow(ctx, q,
		`SELECT `+debtColumns+` FROM debts WHERE id = (SELECT debt_id FROM debt_contributions WHERE event_id = ?)`, key))
	if noRows(err) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("read debt contribution %s: %w", key, err)
	}
	return d, nil
}

func (s *Store) recordContribution(ctx context.Context, q execer, key, debtID string, magnitude float64, at time.Time) error {
	if key == "" {
		return nil
	}
	if _, err := s.exec(ctx, q,
		`INSERT INTO debt_contributions (event_id, debt_id, magnitude, created_at) VALUES (?, ?, ?, ?)`,
		key, debtID, magnitude, ts(at)); err != nil {
		return fmt.Errorf("record debt contribution %s: %w", key, err)
	}
	return nil
}

// writeDebt stores the mutable columns of d.
func (s *Store) writeDebt(ctx context.Context, q execer, d karma.DebtRelationship) error {
	var resolvedAt sql.NullString
	if d.ResolvedAt != nil {
		resolvedAt = nullable(ts(*d.ResolvedAt))
	}
	resolved := 0
	if d.Resolved {
		resolved = 1
	}
	if _, err := s.exec(ctx, q,
		`UPDATE debts SET magnitude = ?, repaid = ?, updated_at = ?, resolved = ?, resolved_at = ?,
		 resolution_event_id = ?, resolution = ?, transferred_to = ? WHERE id = ?`,
		d.Magnitude, d.Repaid, ts(d.UpdatedAt), resolved, resolvedAt,
		nullable(d.ResolutionEventID), nullable(string(d.Resolution)), nullable(d.TransferredTo), d.ID); err != nil {
		return fmt.Errorf("update debt %s: %w", d.ID, err)
	}
	return nil
}

// MergeDebt retries once on a lost insert race: the partial unique index on
// open (debtor, creditor) pairs rejects the second insert, and the retry then
// finds and updates the winner's row. The same holds for two merges of one
// origin event racing on the contribution key.
func (s *Store) MergeDebt(ctx context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var (
			out     karma.DebtRelationship
			created bool
		)
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			var err error
			out, created, err = s.merge(ctx, tx, edge)
			return err
		})
		if err == nil {
			return out, created, nil
		}
		lastErr = err
	}
	return karma.DebtRelationship{}, false, lastErr
}

// merge adds edge to the open edge of its pair inside tx. A contribution
// already recorded for edge.OriginEventID returns the edge it went to.
func (s *Store) merge(ctx context.Context, tx *sql.Tx, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	prior, err := s.contribution(ctx, tx, edge.OriginEventID)
	switch {
	case err == nil:
		return prior, prior.OriginEventID == edge.OriginEventID, nil
	case !errors.Is(err, karma.ErrNotFound):
		return prior, false, err
	}

	out, created := edge, true
	cur, err := scanDebt(s.queryRow(ctx, tx,
		`SELECT `+debtColumns+` FROM debts WHERE debtor = ? AND creditor = ? AND resolved = 0`+s.d.forUpdate,
		edge.DebtorID, edge.CreditorID))
	switch {
	case err == nil:
		cur.Magnitude += edge.Magnitude
		cur.UpdatedAt = edge.UpdatedAt
		if err := s.writeDebt(ctx, tx, cur); err != nil {
			return cur, false, err
		}
		out, created = cur, false
	case noRows(err):
		out.Resolved, out.ResolvedAt, out.ResolutionEventID, out.Resolution = false, nil, "", ""
		if _, err := s.exec(ctx, tx,
			`INSERT INTO debts (id, debtor, creditor, magnitude, repaid, origin_event_id, created_at, updated_at, resolved) VALUES (?, ?, ?, ?, 0, ?, ?, ?, 0)`,
			out.ID, out.DebtorID, out.CreditorID, out.Magnitude, out.OriginEventID, ts(out.CreatedAt), ts(out.UpdatedAt)); err != nil {
			return out, false, fmt.Errorf("insert debt: %w", err)
		}
	default:
		return cur, false, fmt.Errorf("read open debt: %w", err)
	}
	if err := s.recordContribution(ctx, tx, edge.OriginEventID, out.ID, edge.Magnitude, edge.UpdatedAt); err != nil {
		return out, false, err
	}
	return out, created, nil
}

func (s *Store) ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error) {
	d, err := scanDebt(s.queryRow(ctx, s.db,
		`UPDATE debts SET resolved = 1, resolved_at = ?, resolution_event_id = ?, resolution = ?, updated_at = ?
		 WHERE debtor = ? AND creditor = ? AND resolved = 0
		 RETURNING `+debtColumns,
		ts(at), eventID, string(karma.ResolutionAtoned), ts(at), debtorID, creditorID))
	if noRows(err) {
		return s.resolvedBy(ctx, debtorID, creditorID, eventID)
	}
	if err != nil {
		return d, fmt.Errorf("resolve debt %s->%s: %w", debtorID, creditorID, err)
	}
	return d, nil
}

// resolvedBy finds the edge of the pair that eventID already closed.
func (s *Store) resolvedBy(ctx context.Context, debtorID, creditorID, eventID string) (karma.DebtRelationship, error) {
	if eventID == "" {
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	d, err := scanDebt(s.queryRow(ctx, s.db,
		`SELECT `+debtColumns+` FROM debts WHERE debtor = ? AND creditor = ? AND resolved = 1 AND resolution_event_id = ?`,
		debtorID, creditorID, eventID))
	if noRows(err) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("read resolved debt %s->%s: %w", debtorID, creditorID, err)
	}
	return d, nil
}

func (s *Store) lockDebt(ctx context.Context, tx *sql.Tx, id string) (karma.DebtRelationship, error) {
	d, err := scanDebt(s.queryRow(ctx, tx, `SELECT `+debtColumns+` FROM debts WHERE id = ?`+s.d.forUpdate, id))
	if noRows(err) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("read debt %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) RepayDebt(ctx context.Context, id string, amount float64, repaymentID string, at time.Time) (karma.DebtRelationship, error) {
	var out karma.DebtRelationship
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.lockDebt(ctx, tx, id)
		if err != nil {
			return err
		}
		prior, err := s.contribution(ctx, tx, repaymentID)
		switch {
		case err == nil && prior.ID == cur.ID:
			out = cur
			return nil
		case err != nil && !errors.Is(err, karma.ErrNotFound):
			return err
		}
		next, err := cur.Repay(amount, repaymentID, at)
		if err != nil {
			return err
		}
		if err := s.writeDebt(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return s.recordContribution(ctx, tx, repaymentID, id, -amount, at)
	})
	return out, err
}

func (s *Store) TransferDebt(ctx context.Context, id, newDebtorID, transferID string, at time.Time) (karma.DebtRelationship, karma.DebtRelationship, error) {
	var closed, successor karma.DebtRelationship
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.lockDebt(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Resolution == karma.ResolutionTransferred && cur.ResolutionEventID == transferID {
			prior, err := s.contribution(ctx, tx, transferID)
			if err == nil {
				closed, successor = cur, prior
				return nil
			}
			if !errors.Is(err, karma.ErrNotFound) {
				return err
			}
		}
		c, succ, err := cur.Transfer(newDebtorID, transferID, at)
		if err != nil {
			return err
		}
		if err := s.writeDebt(ctx, tx, c); err != nil {
			return err
		}
		merged, _, err := s.merge(ctx, tx, succ)
		if err != nil {
			return err
		}
		closed, successor = c, merged
		return nil
	})
	return closed, successor, err
}

func (s *Store) GetDebt(ctx context.Context, id string) (karma.DebtRelationship, error) {
	d, err := scanDebt(s.queryRow(ctx, s.db, `SELECT `+debtColumns+` FROM debts WHERE id = ?`, id))
	if noRows(err) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("get debt %s: %w", id, err)
	}
	return d, nil
}

func (s *Store) GetUnresolvedDebt(ctx context.Context, debtorID, creditorID string) (karma.DebtRelationship, error) {
	d, err := scanDebt(s.queryRow(ctx, s.db,
		`SELECT `+debtColumns+` FROM debts WHERE debtor = ? AND creditor = ? AND resolved = 0`,
		debtorID, creditorID))
	if noRows(err) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("get debt %s->%s: %w", debtorID, creditorID, err)
	}
	return d, nil
}

func (s *Store) ListDebts(ctx context.Context, userID string) ([]karma.DebtRelationship, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT `+debtColumns+` FROM debts WHERE debtor = ? OR creditor = ? ORDER BY created_at, id`), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list debts %s: %w", userID, err)
	}
	defer rows.Close()
	out := []karma.DebtRelationship{}
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

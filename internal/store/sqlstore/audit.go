package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

// AppendAudit leaves an existing record of the same event (or id) in place.
func (s *Store) AppendAudit(ctx context.Context, rec karma.AuditRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO audit_records (id, event_id, user_id, doc, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		rec.ID, rec.EventID, rec.UserID, string(doc), ts(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("append audit %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) FindAudit(ctx context.Context, eventID string) (karma.AuditRecord, error) {
	var (
		rec karma.AuditRecord
		doc string
	)
	err := s.queryRow(ctx, s.db, `SELECT doc FROM audit_records WHERE event_id = ?`, eventID).Scan(&doc)
	if noRows(err) {
		return rec, karma.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("find audit %s: %w", eventID, err)
	}
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return rec, fmt.Errorf("decode audit %s: %w", eventID, err)
	}
	return rec, nil
}

func (s *Store) ListAudit(ctx context.Context, userID string, limit int) ([]karma.AuditRecord, error) {
	q := `SELECT doc FROM audit_records WHERE user_id = ? ORDER BY seq DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit %s: %w", userID, err)
	}
	defer rows.Close()

	out := []karma.AuditRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var rec karma.AuditRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

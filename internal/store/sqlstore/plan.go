package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
)

func (s *Store) SavePlan(ctx context.Context, plan karma.AtonementPlan) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO plans (id, user_id, status, doc, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		plan.ID, plan.UserID, string(plan.Status), string(doc), ts(plan.CreatedAt))
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

func decodePlan(doc string) (karma.AtonementPlan, error) {
	var p karma.AtonementPlan
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return p, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, planID string) (karma.AtonementPlan, error) {
	var doc string
	err := s.queryRow(ctx, s.db, `SELECT doc FROM plans WHERE id = ?`, planID).Scan(&doc)
	if noRows(err) {
		return karma.AtonementPlan{}, karma.ErrNotFound
	}
	if err != nil {
		return karma.AtonementPlan{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return decodePlan(doc)
}

func (s *Store) ListPlans(ctx context.Context, userID string) ([]karma.AtonementPlan, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT doc FROM plans WHERE user_id = ? ORDER BY created_at, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list plans %s: %w", userID, err)
	}
	defer rows.Close()
	out := []karma.AtonementPlan{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		p, err := decodePlan(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) TransitionPlan(ctx context.Context, plan karma.AtonementPlan, from karma.PlanStatus) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	res, err := s.exec(ctx, s.db, `UPDATE plans SET status = ?, doc = ? WHERE id = ? AND status = ?`,
		string(plan.Status), string(doc), plan.ID, string(from))
	if err != nil {
		return fmt.Errorf("transition plan %s: %w", plan.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Lost the race, or a retry of a transition that already committed.
	var status, stored string
	err = s.queryRow(ctx, s.db, `SELECT status, doc FROM plans WHERE id = ?`, plan.ID).Scan(&status, &stored)
	if noRows(err) {
		return karma.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read plan %s: %w", plan.ID, err)
	}
	if status == string(plan.Status) && stored == string(doc) {
		return nil
	}
	return karma.ErrConflict
}

const policyRow = 1

func (s *Store) LoadPolicy(ctx context.Context) (recommender.Snapshot, error) {
	var doc string
	err := s.queryRow(ctx, s.db, `SELECT doc FROM policy WHERE id = ?`, policyRow).Scan(&doc)
	if noRows(err) {
		return recommender.Snapshot{}, karma.ErrNotFound
	}
	if err != nil {
		return recommender.Snapshot{}, fmt.Errorf("load policy: %w", err)
	}
	var snap recommender.Snapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return snap, fmt.Errorf("decode policy: %w", err)
	}
	return snap, nil
}

func (s *Store) SavePolicy(ctx context.Context, snap recommender.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO policy (id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		policyRow, string(doc), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

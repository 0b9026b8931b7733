package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
)

func (s *Store) planKey(id string) string          { return s.key("plan", id) }
func (s *Store) userPlansKey(userID string) string { return s.key("plans", "user", userID) }
func (s *Store) policyKey() string                 { return s.key("policy") }

// SavePlan indexes plans per user in a sorted set scored by creation time in
// microseconds; equal scores fall back to member (id) order.
func (s *Store) SavePlan(ctx context.Context, plan karma.AtonementPlan) error {
	doc, err := mustJSON(plan)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.planKey(plan.ID), doc, 0)
		p.ZAdd(ctx, s.userPlansKey(plan.UserID), redis.Z{Score: float64(plan.CreatedAt.UnixMicro()), Member: plan.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID string) (karma.AtonementPlan, error) {
	var p karma.AtonementPlan
	err := getJSON(ctx, s.client, s.planKey(planID), &p)
	if errors.Is(err, redis.Nil) {
		return p, karma.ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context, userID string) ([]karma.AtonementPlan, error) {
	ids, err := s.client.ZRange(ctx, s.userPlansKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list plans %s: %w", userID, err)
	}
	out := make([]karma.AtonementPlan, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPlan(ctx, id)
		if errors.Is(err, karma.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) TransitionPlan(ctx context.Context, plan karma.AtonementPlan, from karma.PlanStatus) error {
	doc, err := mustJSON(plan)
	if err != nil {
		return err
	}
	pk := s.planKey(plan.ID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, pk).Bytes()
		if errors.Is(err, redis.Nil) {
			return karma.ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur karma.AtonementPlan
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode plan %s: %w", plan.ID, err)
		}
		if cur.Status != from {
			if bytes.Equal(raw, doc) {
				return nil
			}
			return karma.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, pk, doc, 0)
			return nil
		})
		return err
	}, pk)
}

func (s *Store) LoadPolicy(ctx context.Context) (recommender.Snapshot, error) {
	var snap recommender.Snapshot
	err := getJSON(ctx, s.client, s.policyKey(), &snap)
	if errors.Is(err, redis.Nil) {
		return snap, karma.ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("load policy: %w", err)
	}
	return snap, nil
}

func (s *Store) SavePolicy(ctx context.Context, snap recommender.Snapshot) error {
	doc, err := mustJSON(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.policyKey(), doc, 0).Err()
}

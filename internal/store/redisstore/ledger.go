package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

func (s *Store) ledgerKey(userID string) string { return s.key("ledger", userID) }
func (s *Store) deltaKey(deltaID string) string { return s.key("delta", deltaID) }

func (s *Store) readLedger(ctx context.Context, c redis.Cmdable, userID string) (*ledger.Ledger, error) {
	l := ledger.New(userID)
	if err := getJSON(ctx, c, s.ledgerKey(userID), l); err != nil {
		return nil, err
	}
	if l.Balances == nil {
		l.Balances = make(map[ledger.TokenKind]float64)
	}
	return l, nil
}

func (s *Store) GetLedger(ctx context.Context, userID string) (*ledger.Ledger, error) {
	l, err := s.readLedger(ctx, s.client, userID)
	if errors.Is(err, redis.Nil) {
		return nil, karma.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", userID, err)
	}
	return l, nil
}

func (s *Store) ApplyDelta(ctx context.Context, d ledger.Delta) (*ledger.Ledger, bool, error) {
	var (
		out     *ledger.Ledger
		applied bool
	)
	lk, dk := s.ledgerKey(d.UserID), s.deltaKey(d.ID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.readLedger(ctx, tx, d.UserID)
		switch {
		case errors.Is(err, redis.Nil):
			cur = ledger.New(d.UserID)
		case err != nil:
			return err
		}
		seen, err := tx.Exists(ctx, dk).Result()
		if err != nil {
			return err
		}
		if seen > 0 {
			out, applied = cur, false
			return nil
		}

		next, err := ledger.Apply(cur, d)
		if err != nil {
			return err
		}
		doc, err := mustJSON(next)
		if err != nil {
			return err
		}
		ddoc, err := mustJSON(d)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, lk, doc, 0)
			p.Set(ctx, dk, ddoc, 0)
			return nil
		}); err != nil {
			return err
		}
		out, applied = next, true
		return nil
	}, lk, dk)
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (s *Store) GetDelta(ctx context.Context, deltaID string) (ledger.Delta, error) {
	var d ledger.Delta
	err := getJSON(ctx, s.client, s.deltaKey(deltaID), &d)
	if errors.Is(err, redis.Nil) {
		return d, karma.ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("get delta %s: %w", deltaID, err)
	}
	return d, nil
}

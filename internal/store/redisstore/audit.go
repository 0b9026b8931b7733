package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

func (s *Store) auditKey(userID string) string { return s.key("audit", userID) }

// auditEventKey holds the record of one event. Setting it and appending to
// the user's list happen in one MULTI, so the key doubles as the
// once-per-event guard.
func (s *Store) auditEventKey(eventID string) string { return s.key("audit", "event", eventID) }

func (s *Store) AppendAudit(ctx context.Context, rec karma.AuditRecord) error {
	doc, err := mustJSON(rec)
	if err != nil {
		return err
	}
	ek := s.auditEventKey(rec.EventID)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, ek).Result()
		if err != nil || n > 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, ek, doc, 0)
			p.RPush(ctx, s.auditKey(rec.UserID), doc)
			return nil
		})
		return err
	}, ek)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) FindAudit(ctx context.Context, eventID string) (karma.AuditRecord, error) {
	var rec karma.AuditRecord
	err := getJSON(ctx, s.client, s.auditEventKey(eventID), &rec)
	if errors.Is(err, redis.Nil) {
		return rec, karma.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("find audit %s: %w", eventID, err)
	}
	return rec, nil
}

func (s *Store) ListAudit(ctx context.Context, userID string, limit int) ([]karma.AuditRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, s.auditKey(userID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit %s: %w", userID, err)
	}
	out := make([]karma.AuditRecord, 0, len(raw))
	for _, doc := range raw {
		var rec karma.AuditRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

func (s *Store) debtKey(id string) string { return s.key("debt", id) }

// openKey points at the id of the single unresolved edge for a pair. Every
// write to an open edge also rewrites this key so that watching it
// serialises merges and resolutions of the pair.
func (s *Store) openKey(debtorID, creditorID string) string {
	return s.key("debt", "open", debtorID, creditorID)
}

func (s *Store) userDebtsKey(userID string) string { return s.key("debts", "user", userID) }

func (s *Store) openDebt(ctx context.Context, c redis.Cmdable, debtorID, creditorID string) (karma.DebtRelationship, error) {
	var d karma.DebtRelationship
	id, err := c.Get(ctx, s.openKey(debtorID, creditorID)).Result()
	if err != nil {
		return d, err
	}
	err = getJSON(ctx, c, s.debtKey(id), &d)
	return d, err
}

// contribKey records which edge a keyed debt write (event, repayment or
// transfer id) changed.
func (s *Store) contribKey(key string) string { return s.key("debt", "contrib", key) }

// resolutionKey points from a resolving event id to the edge it closed.
func (s *Store) resolutionKey(eventID string) string { return s.key("debt", "resolution", eventID) }

func (s *Store) debtByID(ctx context.Context, c redis.Cmdable, id string) (karma.DebtRelationship, error) {
	var d karma.DebtRelationship
	err := getJSON(ctx, c, s.debtKey(id), &d)
	return d, err
}

// contributed returns the edge an earlier write keyed by key changed, or
// redis.Nil.
func (s *Store) contributed(ctx context.Context, c redis.Cmdable, key string) (karma.DebtRelationship, error) {
	if key == "" {
		return karma.DebtRelationship{}, redis.Nil
	}
	id, err := c.Get(ctx, s.contribKey(key)).Result()
	if err != nil {
		return karma.DebtRelationship{}, err
	}
	return s.debtByID(ctx, c, id)
}

// debtWrite is the set of keys one debt mutation touches, queued in a single
// MULTI.
type debtWrite struct {
	edges    []karma.DebtRelationship
	created  []karma.DebtRelationship
	contrib  map[string]string
	resolved map[string]string
}

func (s *Store) commit(ctx context.Context, tx *redis.Tx, w debtWrite) error {
	docs := make([][]byte, len(w.edges))
	for i, e := range w.edges {
		doc, err := mustJSON(e)
		if err != nil {
			return err
		}
		docs[i] = doc
	}
	_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, e := range w.edges {
			p.Set(ctx, s.debtKey(e.ID), docs[i], 0)
			if e.Resolved {
				p.Del(ctx, s.openKey(e.DebtorID, e.CreditorID))
			} else {
				p.Set(ctx, s.openKey(e.DebtorID, e.CreditorID), e.ID, 0)
			}
		}
		for _, e := range w.created {
			p.RPush(ctx, s.userDebtsKey(e.DebtorID), e.ID)
			if e.CreditorID != e.DebtorID {
				p.RPush(ctx, s.userDebtsKey(e.CreditorID), e.ID)
			}
		}
		for k, id := range w.contrib {
			if k != "" {
				p.Set(ctx, s.contribKey(k), id, 0)
			}
		}
		for k, id := range w.resolved {
			if k != "" {
				p.Set(ctx, s.resolutionKey(k), id, 0)
			}
		}
		return nil
	})
	return err
}

// merge folds edge into the open edge of its pair, reading through tx.
func (s *Store) merge(ctx context.Context, tx *redis.Tx, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	cur, err := s.openDebt(ctx, tx, edge.DebtorID, edge.CreditorID)
	switch {
	case err == nil:
		cur.Magnitude += edge.Magnitude
		cur.UpdatedAt = edge.UpdatedAt
		return cur, false, nil
	case errors.Is(err, redis.Nil):
		edge.Resolved, edge.ResolvedAt, edge.ResolutionEventID, edge.Resolution = false, nil, "", ""
		return edge, true, nil
	default:
		return cur, false, err
	}
}

func (s *Store) MergeDebt(ctx context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	var (
		out     karma.DebtRelationship
		created bool
	)
	ok := s.openKey(edge.DebtorID, edge.CreditorID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		prior, err := s.contributed(ctx, tx, edge.OriginEventID)
		switch {
		case err == nil:
			out, created = prior, prior.OriginEventID == edge.OriginEventID
			return nil
		case !errors.Is(err, redis.Nil):
			return err
		}
		out, created, err = s.merge(ctx, tx, edge)
		if err != nil {
			return err
		}
		w := debtWrite{edges: []karma.DebtRelationship{out}, contrib: map[string]string{edge.OriginEventID: out.ID}}
		if created {
			w.created = w.edges
		}
		return s.commit(ctx, tx, w)
	}, ok, s.contribKey(edge.OriginEventID))
	if err != nil {
		return karma.DebtRelationship{}, false, fmt.Errorf("merge debt %s->%s: %w", edge.DebtorID, edge.CreditorID, err)
	}
	return out, created, nil
}

func (s *Store) ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error) {
	var out karma.DebtRelationship
	ok := s.openKey(debtorID, creditorID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.openDebt(ctx, tx, debtorID, creditorID)
		if errors.Is(err, redis.Nil) {
			out, err = s.resolvedBy(ctx, tx, debtorID, creditorID, eventID)
			return err
		}
		if err != nil {
			return err
		}
		cur.Close(karma.ResolutionAtoned, eventID, at)
		if err := s.commit(ctx, tx, debtWrite{
			edges:    []karma.DebtRelationship{cur},
			resolved: map[string]string{eventID: cur.ID},
		}); err != nil {
			return err
		}
		out = cur
		return nil
	}, ok)
	if errors.Is(err, karma.ErrNotFound) {
		return out, err
	}
	if err != nil {
		return out, fmt.Errorf("resolve debt %s->%s: %w", debtorID, creditorID, err)
	}
	return out, nil
}

// resolvedBy finds the edge of the pair that eventID already closed.
func (s *Store) resolvedBy(ctx context.Context, c redis.Cmdable, debtorID, creditorID, eventID string) (karma.DebtRelationship, error) {
	if eventID == "" {
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	id, err := c.Get(ctx, s.resolutionKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	if err != nil {
		return karma.DebtRelationship{}, err
	}
	d, err := s.debtByID(ctx, c, id)
	if err != nil {
		return d, err
	}
	if d.DebtorID != debtorID || d.CreditorID != creditorID {
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	return d, nil
}

// pairOf reads edge id outside any transaction to learn which keys to watch.
func (s *Store) pairOf(ctx context.Context, id string) (karma.DebtRelationship, error) {
	d, err := s.debtByID(ctx, s.client, id)
	if errors.Is(err, redis.Nil) {
		return d, karma.ErrNotFound
	}
	return d, err
}

func (s *Store) RepayDebt(ctx context.Context, id string, amount float64, repaymentID string, at time.Time) (karma.DebtRelationship, error) {
	seen, err := s.pairOf(ctx, id)
	if err != nil {
		return seen, err
	}
	var out karma.DebtRelationship
	err = s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.debtByID(ctx, tx, id)
		if err != nil {
			return err
		}
		prior, err := s.contributed(ctx, tx, repaymentID)
		switch {
		case err == nil && prior.ID == cur.ID:
			out = cur
			return nil
		case err != nil && !errors.Is(err, redis.Nil):
			return err
		}
		next, err := cur.Repay(amount, repaymentID, at)
		if err != nil {
			return err
		}
		w := debtWrite{edges: []karma.DebtRelationship{next}, contrib: map[string]string{repaymentID: id}}
		if next.Resolved {
			w.resolved = map[string]string{repaymentID: id}
		}
		if err := s.commit(ctx, tx, w); err != nil {
			return err
		}
		out = next
		return nil
	}, s.debtKey(id), s.openKey(seen.DebtorID, seen.CreditorID), s.contribKey(repaymentID))
	if errors.Is(err, karma.ErrConflict) || errors.Is(err, karma.ErrInvalidDebtOp) {
		return out, err
	}
	if err != nil {
		return out, fmt.Errorf("repay debt %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) TransferDebt(ctx context.Context, id, newDebtorID, transferID string, at time.Time) (karma.DebtRelationship, karma.DebtRelationship, error) {
	seen, err := s.pairOf(ctx, id)
	if err != nil {
		return seen, karma.DebtRelationship{}, err
	}
	var closed, successor karma.DebtRelationship
	err = s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.debtByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Resolution == karma.ResolutionTransferred && cur.ResolutionEventID == transferID {
			prior, err := s.contributed(ctx, tx, transferID)
			if err == nil {
				closed, successor = cur, prior
				return nil
			}
			if !errors.Is(err, redis.Nil) {
				return err
			}
		}
		c, succ, err := cur.Transfer(newDebtorID, transferID, at)
		if err != nil {
			return err
		}
		merged, created, err := s.merge(ctx, tx, succ)
		if err != nil {
			return err
		}
		w := debtWrite{
			edges:    []karma.DebtRelationship{c, merged},
			contrib:  map[string]string{transferID: merged.ID},
			resolved: map[string]string{transferID: c.ID},
		}
		if created {
			w.created = []karma.DebtRelationship{merged}
		}
		if err := s.commit(ctx, tx, w); err != nil {
			return err
		}
		closed, successor = c, merged
		return nil
	}, s.debtKey(id), s.openKey(seen.DebtorID, seen.CreditorID),
		s.openKey(strings.TrimSpace(newDebtorID), seen.CreditorID), s.contribKey(transferID))
	if errors.Is(err, karma.ErrConflict) || errors.Is(err, karma.ErrInvalidDebtOp) {
		return closed, successor, err
	}
	if err != nil {
		return closed, successor, fmt.Errorf("transfer debt %s: %w", id, err)
	}
	return closed, successor, nil
}

func (s *Store) GetDebt(ctx context.Context, id string) (karma.DebtRelationship, error) {
	d, err := s.pairOf(ctx, id)
	if err != nil && !errors.Is(err, karma.ErrNotFound) {
		return d, fmt.Errorf("get debt %s: %w", id, err)
	}
	return d, err
}

func (s *Store) GetUnresolvedDebt(ctx context.Context, debtorID, creditorID string) (karma.DebtRelationship, error) {
	d, err := s.openDebt(ctx, s.client, debtorID, creditorID)
	if errors.Is(err, redis.Nil) {
		return d, karma.ErrNotFound
	}
	return d, err
}

func (s *Store) ListDebts(ctx context.Context, userID string) ([]karma.DebtRelationship, error) {
	ids, err := s.client.LRange(ctx, s.userDebtsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list debts %s: %w", userID, err)
	}
	out := []karma.DebtRelationship{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.debtKey(id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load debts %s: %w", userID, err)
	}
	for i, doc := range docs {
		str, ok := doc.(string)
		if !ok {
			return nil, fmt.Errorf("debt %s missing from index of %s", ids[i], userID)
		}
		var d karma.DebtRelationship
		if err := json.Unmarshal([]byte(str), &d); err != nil {
			return nil, fmt.Errorf("decode debt %s: %w", ids[i], err)
		}
		out = append(out, d)
	}
	return out, nil
}

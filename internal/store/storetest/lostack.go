package storetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

// ErrAckLost is what a write looks like to the caller when it committed but
// the reply never arrived.
var ErrAckLost = errors.New("read tcp 10.0.0.7:5432: i/o timeout")

// LostAck wraps a store so that the first successful call of each keyed
// write commits and then reports ErrAckLost. ApplyDelta is passed through:
// its replay contract (applied=false) is covered separately.
type LostAck struct {
	store.Store

	mu      sync.Mutex
	dropped map[string]int
}

// NewLostAck wraps next.
func NewLostAck(next store.Store) *LostAck {
	return &LostAck{Store: next, dropped: make(map[string]int)}
}

// Dropped returns how many acknowledgements of op were swallowed.
func (l *LostAck) Dropped(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range l.dropped {
		if strings.HasPrefix(k, op+"/") {
			n += v
		}
	}
	return n
}

// lose reports whether the reply of a successful write keyed by op/key is
// to be dropped: only the first one is.
func (l *LostAck) lose(op, key string, err error) error {
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := op + "/" + key
	if l.dropped[k] > 0 {
		return nil
	}
	l.dropped[k]++
	return ErrAckLost
}

func (l *LostAck) AppendAudit(ctx context.Context, rec karma.AuditRecord) error {
	return l.lose("append_audit", rec.EventID, l.Store.AppendAudit(ctx, rec))
}

func (l *LostAck) MergeDebt(ctx context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	out, created, err := l.Store.MergeDebt(ctx, edge)
	return out, created, l.lose("merge_debt", edge.OriginEventID, err)
}

func (l *LostAck) ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error) {
	out, err := l.Store.ResolveDebt(ctx, debtorID, creditorID, eventID, at)
	return out, l.lose("resolve_debt", eventID, err)
}

func (l *LostAck) RepayDebt(ctx context.Context, id string, amount float64, repaymentID string, at time.Time) (karma.DebtRelationship, error) {
	out, err := l.Store.RepayDebt(ctx, id, amount, repaymentID, at)
	return out, l.lose("repay_debt", repaymentID, err)
}

func (l *LostAck) TransferDebt(ctx context.Context, id, newDebtorID, transferID string, at time.Time) (karma.DebtRelationship, karma.DebtRelationship, error) {
	closed, succ, err := l.Store.TransferDebt(ctx, id, newDebtorID, transferID, at)
	return closed, succ, l.lose("transfer_debt", transferID, err)
}

func (l *LostAck) SavePlan(ctx context.Context, plan karma.AtonementPlan) error {
	return l.lose("save_plan", plan.ID+"/"+string(plan.Status), l.Store.SavePlan(ctx, plan))
}

func (l *LostAck) TransitionPlan(ctx context.Context, plan karma.AtonementPlan, from karma.PlanStatus) error {
	return l.lose("transition_plan", plan.ID+"/"+string(plan.Status), l.Store.TransitionPlan(ctx, plan, from))
}

func (l *LostAck) SavePolicy(ctx context.Context, snap recommender.Snapshot) error {
	return l.lose("save_policy", "", l.Store.SavePolicy(ctx, snap))
}

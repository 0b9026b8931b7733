package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
)

// RetryOptions bounds every store call.
type RetryOptions struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnRetry is called before each retry. Optional.
	OnRetry func(op string, err error)
}

// Retrying decorates a Store with per-call timeouts and bounded exponential
// backoff. Errors that survive the budget come back as *karma.PersistenceError.
// Caller input errors (not found, conflict, invalid delta) are never retried.
//
// A write whose acknowledgement is lost is retried as is. Every Store write
// is keyed (delta id, event id, repayment or transfer id, target plan state)
// so the retry finds the committed write and reports it as a success.
type Retrying struct {
	next Store
	opts RetryOptions
}

// WithRetry wraps next.
func WithRetry(next Store, opts RetryOptions) *Retrying {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 50 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	return &Retrying{next: next, opts: opts}
}

// Unwrap returns the decorated store.
func (r *Retrying) Unwrap() Store { return r.next }

func permanent(err error) bool {
	return errors.Is(err, karma.ErrNotFound) ||
		errors.Is(err, karma.ErrConflict) ||
		errors.Is(err, karma.ErrInvalidDebtOp) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ledger.ErrInvalidSeverity) ||
		errors.Is(err, ledger.ErrDerivedToken) ||
		errors.Is(err, ledger.ErrUserMismatch)
}

func (r *Retrying) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.opts.BaseDelay),
		backoff.WithMaxInterval(r.opts.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.opts.MaxAttempts-1)), ctx)
}

func call[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := 0
	v, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
		v, err := fn(actx)
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, r.backoff(ctx), func(err error, _ time.Duration) {
		if r.opts.OnRetry != nil {
			r.opts.OnRetry(op, err)
		}
	})
	if err == nil || permanent(err) {
		return v, err
	}
	return v, &karma.PersistenceError{Op: op, Attempts: attempts, Err: err}
}

func exec(ctx context.Context, r *Retrying, op string, fn func(context.Context) error) error {
	_, err := call(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Retrying) GetLedger(ctx context.Context, userID string) (*ledger.Ledger, error) {
	return call(ctx, r, "get_ledger", func(ctx context.Context) (*ledger.Ledger, error) {
		return r.next.GetLedger(ctx, userID)
	})
}

type applyResult struct {
	l       *ledger.Ledger
	applied bool
}

// ApplyDelta is safe to retry: stores apply a delta id at most once. A retry
// after a lost acknowledgement reports applied=false with the current ledger.
func (r *Retrying) ApplyDelta(ctx context.Context, d ledger.Delta) (*ledger.Ledger, bool, error) {
	res, err := call(ctx, r, "apply_delta", func(ctx context.Context) (applyResult, error) {
		l, ok, err := r.next.ApplyDelta(ctx, d)
		return applyResult{l, ok}, err
	})
	return res.l, res.applied, err
}

func (r *Retrying) GetDelta(ctx context.Context, deltaID string) (ledger.Delta, error) {
	return call(ctx, r, "get_delta", func(ctx context.Context) (ledger.Delta, error) {
		return r.next.GetDelta(ctx, deltaID)
	})
}

func (r *Retrying) AppendAudit(ctx context.Context, rec karma.AuditRecord) error {
	return exec(ctx, r, "append_audit", func(ctx context.Context) error {
		return r.next.AppendAudit(ctx, rec)
	})
}

func (r *Retrying) FindAudit(ctx context.Context, eventID string) (karma.AuditRecord, error) {
	return call(ctx, r, "find_audit", func(ctx context.Context) (karma.AuditRecord, error) {
		return r.next.FindAudit(ctx, eventID)
	})
}

func (r *Retrying) ListAudit(ctx context.Context, userID string, limit int) ([]karma.AuditRecord, error) {
	return call(ctx, r, "list_audit", func(ctx context.Context) ([]karma.AuditRecord, error) {
		return r.next.ListAudit(ctx, userID, limit)
	})
}

type mergeResult struct {
	edge    karma.DebtRelationship
	created bool
}

func (r *Retrying) MergeDebt(ctx context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	res, err := call(ctx, r, "merge_debt", func(ctx context.Context) (mergeResult, error) {
		e, created, err := r.next.MergeDebt(ctx, edge)
		return mergeResult{e, created}, err
	})
	return res.edge, res.created, err
}

func (r *Retrying) ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error) {
	return call(ctx, r, "resolve_debt", func(ctx context.Context) (karma.DebtRelationship, error) {
		return r.next.ResolveDebt(ctx, debtorID, creditorID, eventID, at)
	})
}

func (r *Retrying) RepayDebt(ctx context.Context, id string, amount float64, repaymentID string, at time.Time) (karma.DebtRelationship, error) {
	return call(ctx, r, "repay_debt", func(ctx context.Context) (karma.DebtRelationship, error) {
		return r.next.RepayDebt(ctx, id, amount, repaymentID, at)
	})
}

type transferResult struct {
	closed, successor karma.DebtRelationship
}

func (r *Retrying) TransferDebt(ctx context.Context, id, newDebtorID, transferID string, at time.Time) (karma.DebtRelationship, karma.DebtRelationship, error) {
	res, err := call(ctx, r, "transfer_debt", func(ctx context.Context) (transferResult, error) {
		c, s, err := r.next.TransferDebt(ctx, id, newDebtorID, transferID, at)
		return transferResult{c, s}, err
	})
	return res.closed, res.successor, err
}

func (r *Retrying) GetDebt(ctx context.Context, id string) (karma.DebtRelationship, error) {
	return call(ctx, r, "get_debt", func(ctx context.Context) (karma.DebtRelationship, error) {
		return r.next.GetDebt(ctx, id)
	})
}

func (r *Retrying) GetUnresolvedDebt(ctx context.Context, debtorID, creditorID string) (karma.DebtRelationship, error) {
	return call(ctx, r, "get_unresolved_debt", func(ctx context.Context) (karma.DebtRelationship, error) {
		return r.next.GetUnresolvedDebt(ctx, debtorID, creditorID)
	})
}

func (r *Retrying) ListDebts(ctx context.Context, userID string) ([]karma.DebtRelationship, error) {
	return call(ctx, r, "list_debts", func(ctx context.Context) ([]karma.DebtRelationship, error) {
		return r.next.ListDebts(ctx, userID)
	})
}

func (r *Retrying) SavePlan(ctx context.Context, plan karma.AtonementPlan) error {
	return exec(ctx, r, "save_plan", func(ctx context.Context) error {
		return r.next.SavePlan(ctx, plan)
	})
}

func (r *Retrying) GetPlan(ctx context.Context, planID string) (karma.AtonementPlan, error) {
	return call(ctx, r, "get_plan", func(ctx context.Context) (karma.AtonementPlan, error) {
		return r.next.GetPlan(ctx, planID)
	})
}

func (r *Retrying) ListPlans(ctx context.Context, userID string) ([]karma.AtonementPlan, error) {
	return call(ctx, r, "list_plans", func(ctx context.Context) ([]karma.AtonementPlan, error) {
		return r.next.ListPlans(ctx, userID)
	})
}

func (r *Retrying) TransitionPlan(ctx context.Context, plan karma.AtonementPlan, from karma.PlanStatus) error {
	return exec(ctx, r, "transition_plan", func(ctx context.Context) error {
		return r.next.TransitionPlan(ctx, plan, from)
	})
}

func (r *Retrying) LoadPolicy(ctx context.Context) (recommender.Snapshot, error) {
	return call(ctx, r, "load_policy", func(ctx context.Context) (recommender.Snapshot, error) {
		return r.next.LoadPolicy(ctx)
	})
}

func (r *Retrying) SavePolicy(ctx context.Context, snap recommender.Snapshot) error {
	return exec(ctx, r, "save_policy", func(ctx context.Context) error {
		return r.next.SavePolicy(ctx, snap)
	})
}

func (r *Retrying) Ping(ctx context.Context) error {
	return exec(ctx, r, "ping", r.next.Ping)
}

func (r *Retrying) Close() error { return r.next.Close() }

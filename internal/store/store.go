// Package store defines the document store contract the engine runs against,
// an in-memory implementation and a retrying decorator.
package store

import (
	"context"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
)

// LedgerStore persists token ledgers.
type LedgerStore interface {
	// GetLedger returns karma.ErrNotFound for users with no ledger yet.
	GetLedger(ctx context.Context, userID string) (*ledger.Ledger, error)
	// ApplyDelta atomically applies d to the user's ledger. A delta id is
	// applied at most once: replays return the current ledger and false.
	ApplyDelta(ctx context.Context, d ledger.Delta) (*ledger.Ledger, bool, error)
	// GetDelta returns a journalled delta by id.
	GetDelta(ctx context.Context, deltaID string) (ledger.Delta, error)
}

// AuditStore is the append-only audit log. It holds at most one record per
// event id.
type AuditStore interface {
	// AppendAudit stores rec unless a record for rec.EventID exists, in which
	// case it is a no-op.
	AppendAudit(ctx context.Context, rec karma.AuditRecord) error
	// FindAudit returns the record of an event, or karma.ErrNotFound.
	FindAudit(ctx context.Context, eventID string) (karma.AuditRecord, error)
	// ListAudit returns up to limit of the user's most recent records in
	// chronological order. limit <= 0 means all.
	ListAudit(ctx context.Context, userID string, limit int) ([]karma.AuditRecord, error)
}

// DebtStore holds the directed debt graph. At most one unresolved edge exists
// per ordered (debtor, creditor) pair.
//
// Every write is keyed by the id of the event, repayment or transfer behind
// it and applied at most once. Replaying a write returns the stored result.
type DebtStore interface {
	// MergeDebt adds edge.Magnitude to the open edge for the pair, or inserts
	// edge when none is open. created reports which happened. The write is
	// keyed by edge.OriginEventID.
	MergeDebt(ctx context.Context, edge karma.DebtRelationship) (merged karma.DebtRelationship, created bool, err error)
	// ResolveDebt closes the open edge for the pair, or returns
	// karma.ErrNotFound. Replaying eventID returns the edge it closed.
	ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error)
	// RepayDebt reduces the open edge id by amount and closes it once nothing
	// is left. It returns karma.ErrInvalidDebtOp for amounts the edge cannot
	// take and karma.ErrConflict for closed edges.
	RepayDebt(ctx context.Context, id string, amount float64, repaymentID string, at time.Time) (karma.DebtRelationship, error)
	// TransferDebt closes the open edge id and moves its magnitude to the
	// edge from newDebtorID to the same creditor.
	TransferDebt(ctx context.Context, id, newDebtorID, transferID string, at time.Time) (closed, successor karma.DebtRelationship, err error)
	GetDebt(ctx context.Context, id string) (karma.DebtRelationship, error)
	GetUnresolvedDebt(ctx context.Context, debtorID, creditorID string) (karma.DebtRelationship, error)
	// ListDebts returns every edge where the user is debtor or creditor.
	ListDebts(ctx context.Context, userID string) ([]karma.DebtRelationship, error)
}

// PlanStore persists atonement plans.
type PlanStore interface {
	SavePlan(ctx context.Context, plan karma.AtonementPlan) error
	GetPlan(ctx context.Context, planID string) (karma.AtonementPlan, error)
	// ListPlans returns the user's plans ordered by creation time.
	ListPlans(ctx context.Context, userID string) ([]karma.AtonementPlan, error)
	// TransitionPlan replaces the stored plan with plan only if its current
	// status is from; otherwise it returns karma.ErrConflict. A stored plan
	// that already equals plan is a no-op.
	TransitionPlan(ctx context.Context, plan karma.AtonementPlan, from karma.PlanStatus) error
}

// PolicyStore persists the recommender's Q-table.
type PolicyStore interface {
	LoadPolicy(ctx context.Context) (recommender.Snapshot, error)
	SavePolicy(ctx context.Context, snap recommender.Snapshot) error
}

// Store is the full contract.
type Store interface {
	LedgerStore
	AuditStore
	DebtStore
	PlanStore
	PolicyStore
	Ping(ctx context.Context) error
	Close() error
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/metrics"
)

// Debt returns one debt edge by id.
func (p *Processor) Debt(ctx context.Context, debtID string) (karma.DebtRelationship, error) {
	d, err := p.store.GetDebt(ctx, strings.TrimSpace(debtID))
	if err != nil && !errors.Is(err, karma.ErrNotFound) {
		return d, p.persistence("get_debt", err)
	}
	return d, err
}

// RepayDebt pays amount off an open edge. The edge resolves as repaid once
// nothing is left. repaymentID keys the write: resubmitting it returns the
// edge unchanged. An empty id gets a fresh one.
func (p *Processor) RepayDebt(ctx context.Context, debtID string, amount float64, repaymentID string) (d karma.DebtRelationship, err error) {
	ctx, span := tracer.Start(ctx, "engine.RepayDebt", trace.WithAttributes(attribute.String("debt.id", debtID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if !(amount > 0) || math.IsInf(amount, 0) {
		return d, fmt.Errorf("%w: repayment amount must be positive", karma.ErrInvalidDebtOp)
	}
	if repaymentID = strings.TrimSpace(repaymentID); repaymentID == "" {
		repaymentID = uuid.NewString()
	}
	d, err = p.store.RepayDebt(ctx, strings.TrimSpace(debtID), amount, repaymentID, p.now().UTC())
	if err != nil {
		return d, p.debtErr("repay_debt", err)
	}
	metrics.DebtOps.WithLabelValues("repay").Inc()
	p.logger.Info("debt repaid",
		"debt_id", d.ID,
		"repayment_id", repaymentID,
		"amount", amount,
		"remaining", d.Magnitude,
		"resolved", d.Resolved,
	)
	return d, nil
}

// TransferDebt hands an open edge to another debtor who must already have a
// ledger. The original edge closes as transferred and a successor carrying
// the remaining magnitude is opened. transferID keys the write.
func (p *Processor) TransferDebt(ctx context.Context, debtID, newDebtorID, transferID string) (closed, successor karma.DebtRelationship, err error) {
	ctx, span := tracer.Start(ctx, "engine.TransferDebt", trace.WithAttributes(attribute.String("debt.id", debtID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	newDebtorID = strings.TrimSpace(newDebtorID)
	if newDebtorID == "" {
		return closed, successor, fmt.Errorf("%w: new_debtor_id is required", karma.ErrInvalidDebtOp)
	}
	if _, err := p.store.GetLedger(ctx, newDebtorID); err != nil {
		if errors.Is(err, karma.ErrNotFound) {
			return closed, successor, fmt.Errorf("debtor %q: %w", newDebtorID, err)
		}
		return closed, successor, p.persistence("get_ledger", err)
	}
	if transferID = strings.TrimSpace(transferID); transferID == "" {
		transferID = uuid.NewString()
	}
	closed, successor, err = p.store.TransferDebt(ctx, strings.TrimSpace(debtID), newDebtorID, transferID, p.now().UTC())
	if err != nil {
		return closed, successor, p.debtErr("transfer_debt", err)
	}
	metrics.DebtOps.WithLabelValues("transfer").Inc()
	p.logger.Info("debt transferred",
		"debt_id", closed.ID,
		"successor_id", successor.ID,
		"from", closed.DebtorID,
		"to", successor.DebtorID,
		"magnitude", successor.Magnitude,
	)
	return closed, successor, nil
}

// debtErr passes caller errors through and maps the rest to persistence
// failures.
func (p *Processor) debtErr(op string, err error) error {
	if errors.Is(err, karma.ErrNotFound) || errors.Is(err, karma.ErrConflict) || errors.Is(err, karma.ErrInvalidDebtOp) {
		return err
	}
	return p.persistence(op, err)
}

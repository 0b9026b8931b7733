package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/mapper"
	"github.com/gyaneshwarpardhi/karmachain/internal/metrics"
)

// CompletionPrefix prefixes the delta id of a plan completion.
const CompletionPrefix = "completion:"

// Profile is a user's current karmic standing.
type Profile struct {
	UserID            string                       `json:"user_id"`
	Ledger            *ledger.Ledger               `json:"ledger"`
	Balances          map[ledger.TokenKind]float64 `json:"balances"`
	AggregateSeverity int                          `json:"aggregate_severity"`
	ActiveSeverity    int                          `json:"active_severity"`
	NetKarma          float64                      `json:"net_karma"`
	Loka              ledger.Loka                  `json:"loka"`
	UnresolvedDebts   []karma.DebtRelationship     `json:"unresolved_debts"`
	Debts             karma.DebtSummary            `json:"debt_summary"`
	ActivePlans       []karma.AtonementPlan        `json:"active_plans"`
}

// KarmaProfile returns the user's ledger, open debts and live plans. Users
// that have never been seen return karma.ErrNotFound.
func (p *Processor) KarmaProfile(ctx context.Context, userID string) (*Profile, error) {
	userID = strings.TrimSpace(userID)
	l, err := p.store.GetLedger(ctx, userID)
	if errors.Is(err, karma.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, p.persistence("get_ledger", err)
	}
	debts, err := p.store.ListDebts(ctx, userID)
	if err != nil {
		return nil, p.persistence("list_debts", err)
	}
	plans, err := p.store.ListPlans(ctx, userID)
	if err != nil {
		return nil, p.persistence("list_plans", err)
	}

	now := p.now()
	prof := &Profile{
		UserID:            userID,
		Ledger:            l,
		Balances:          l.Snapshot(),
		AggregateSeverity: l.AggregateSeverity(),
		ActiveSeverity:    l.ActiveSeverity(),
		NetKarma:          l.NetKarma(),
		Loka:              ledger.AssignLoka(l.NetKarma()),
		UnresolvedDebts:   []karma.DebtRelationship{},
		Debts:             karma.Summarize(userID, debts),
		ActivePlans:       []karma.AtonementPlan{},
	}
	for _, d := range debts {
		if !d.Resolved {
			prof.UnresolvedDebts = append(prof.UnresolvedDebts, d)
		}
	}
	for _, pl := range plans {
		if pl.Status.Active() && !pl.Expired(now) {
			prof.ActivePlans = append(prof.ActivePlans, pl)
		}
	}
	return prof, nil
}

// AcceptPlan moves a proposed plan to accepted. Accepting an accepted plan is
// a no-op.
func (p *Processor) AcceptPlan(ctx context.Context, planID string) (karma.AtonementPlan, error) {
	for {
		plan, err := p.store.GetPlan(ctx, planID)
		if errors.Is(err, karma.ErrNotFound) {
			return plan, err
		}
		if err != nil {
			return plan, p.persistence("get_plan", err)
		}
		switch {
		case plan.Status == karma.PlanCompleted:
			return plan, karma.ErrAlreadyCompleted
		case plan.Status == karma.PlanExpired:
			return plan, karma.ErrPlanExpired
		case plan.Expired(p.now()):
			p.expire(ctx, plan)
			return plan, karma.ErrPlanExpired
		case plan.Status == karma.PlanAccepted:
			return plan, nil
		}

		accepted := plan
		accepted.Status = karma.PlanAccepted
		err = p.store.TransitionPlan(ctx, accepted, plan.Status)
		if errors.Is(err, karma.ErrConflict) {
			continue
		}
		if err != nil {
			return plan, p.persistence("transition_plan", err)
		}
		return accepted, nil
	}
}

// SubmitAtonementCompletion completes a proposed or accepted plan: it checks
// the evidence against the plan's unit and quantity, resolves Paap entries
// within the plan's budget, and feeds the observed severity reduction to the
// recommender exactly once. Evidence that falls short returns
// karma.ErrInvalidEvidence and leaves the plan open. A second completion of
// the same plan returns karma.ErrAlreadyCompleted.
func (p *Processor) SubmitAtonementCompletion(ctx context.Context, planID string, evidence karma.Evidence) (res *Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.SubmitAtonementCompletion", trace.WithAttributes(attribute.String("plan.id", planID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	plan, err := p.store.GetPlan(ctx, planID)
	if errors.Is(err, karma.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, p.persistence("get_plan", err)
	}

	unlock, err := p.locks.Lock(ctx, plan.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the user lock; a concurrent completion may have won.
	plan, err = p.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, p.persistence("get_plan", err)
	}
	now := p.now().UTC()
	switch {
	case plan.Status == karma.PlanCompleted:
		return nil, karma.ErrAlreadyCompleted
	case plan.Status == karma.PlanExpired:
		return nil, karma.ErrPlanExpired
	case plan.Expired(now):
		p.expire(ctx, plan)
		return nil, karma.ErrPlanExpired
	}
	if err := plan.CheckEvidence(evidence); err != nil {
		p.logger.Info("atonement evidence rejected", "plan_id", plan.ID, "error", err)
		return nil, err
	}

	cur, err := p.loadLedger(ctx, plan.UserID)
	if err != nil {
		return nil, err
	}
	before := cur.ActiveSeverity()

	pillar := p.policy.Params().Pillars[plan.Pillar]
	delta := mapper.Atone(cur, CompletionPrefix+plan.ID, now, mapper.Atonement{
		TargetSeverity: plan.TargetSeverity,
		Intensity:      plan.Intensity,
		MaxIntensity:   p.policy.Params().MaxIntensity(),
		Effectiveness:  pillar.Effectiveness,
	})
	delta, outcome, err := p.classify(ctx, cur, delta)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, _, err := p.apply(ctx, delta)
	if err != nil {
		return nil, err
	}
	wctx := context.WithoutCancel(ctx)

	completed := plan
	completed.Status = karma.PlanCompleted
	completed.CompletedAt = &now
	completed.Evidence = &evidence
	err = p.store.TransitionPlan(wctx, completed, plan.Status)
	if errors.Is(err, karma.ErrConflict) {
		return nil, karma.ErrAlreadyCompleted
	}
	if err != nil {
		return nil, p.persistence("transition_plan", err)
	}
	metrics.PlansCompleted.WithLabelValues(string(plan.Pillar)).Inc()

	after := next.ActiveSeverity()
	var flags []karma.Flag
	reward, err := p.policy.Observe(completed, before, after)
	if err != nil {
		flags = append(flags, p.flag(karma.FlagPolicyUpdateFailed))
		p.logger.Error("policy update", "plan_id", plan.ID, "error", err)
	} else {
		metrics.PolicyReward.Observe(reward)
		if err := p.store.SavePolicy(wctx, p.policy.Snapshot()); err != nil {
			flags = append(flags, p.flag(karma.FlagPolicyUpdateFailed))
			p.logger.Error("save policy", "error", err)
		}
	}

	rec := karma.AuditRecord{
		ID:        uuid.NewString(),
		EventID:   CompletionPrefix + plan.ID,
		UserID:    plan.UserID,
		Delta:     delta,
		Outcome:   outcome,
		Flags:     flags,
		Timestamp: now,
	}
	if err := p.appendAudit(wctx, rec); err != nil {
		return nil, err
	}

	p.logger.Info("atonement completed",
		"plan_id", plan.ID,
		"user_id", plan.UserID,
		"pillar", plan.Pillar,
		"severity_before", before,
		"severity_after", after,
		"reward", reward,
	)
	res = &Result{
		EventID:    rec.EventID,
		UserID:     plan.UserID,
		Delta:      delta,
		Outcome:    outcome,
		Plan:       &completed,
		Audit:      &rec,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if len(flags) == 0 {
		res.Reward = &reward
	}
	return res, nil
}

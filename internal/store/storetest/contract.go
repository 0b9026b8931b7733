// Package storetest holds the behavioural contract every store.Store
// implementation must satisfy.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// ContractSuite runs against a fresh store per test. Embed it and set New.
type ContractSuite struct {
	suite.Suite
	New func() store.Store
	s   store.Store
}

func (cs *ContractSuite) SetupTest() {
	cs.s = cs.New()
}

func (cs *ContractSuite) TearDownTest() {
	if cs.s != nil {
		cs.Require().NoError(cs.s.Close())
	}
}

func (cs *ContractSuite) ctx() context.Context { return context.Background() }

func paapDelta(id, user string, sev int) ledger.Delta {
	d := ledger.NewDelta(id, user, t0)
	d.Add(ledger.AdridhaKarma, float64(sev))
	d.NewPaap = []ledger.PaapEntry{{ID: "paap-" + id, EventID: id, Severity: sev, Magnitude: float64(sev), Class: ledger.ClassSanchita, CreatedAt: t0}}
	return d
}

func (cs *ContractSuite) TestLedgerNotFound() {
	_, err := cs.s.GetLedger(cs.ctx(), "nobody")
	cs.ErrorIs(err, karma.ErrNotFound)
}

func (cs *ContractSuite) TestApplyDeltaIsIdempotent() {
	d := paapDelta("e1", "u1", 4)
	d.Add(ledger.DharmaPoints, 2.5)

	l, applied, err := cs.s.ApplyDelta(cs.ctx(), d)
	cs.Require().NoError(err)
	cs.True(applied)
	cs.Equal(int64(1), l.Version)

	again, applied, err := cs.s.ApplyDelta(cs.ctx(), d)
	cs.Require().NoError(err)
	cs.False(applied)
	cs.Equal(int64(1), again.Version)
	cs.Equal(2.5, again.Balances[ledger.DharmaPoints])
	cs.Len(again.Paap, 1)

	got, err := cs.s.GetLedger(cs.ctx(), "u1")
	cs.Require().NoError(err)
	cs.Equal(4.0, got.Balance(ledger.PaapTokens))
	cs.Equal(4, got.AggregateSeverity())
}

func (cs *ContractSuite) TestApplyDeltaRejectsInvalid() {
	d := paapDelta("bad", "u1", 11)
	_, _, err := cs.s.ApplyDelta(cs.ctx(), d)
	cs.ErrorIs(err, ledger.ErrInvalidSeverity)

	_, err = cs.s.GetLedger(cs.ctx(), "u1")
	cs.ErrorIs(err, karma.ErrNotFound)
}

func (cs *ContractSuite) TestConcurrentApplySameUser() {
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := ledger.NewDelta(fmt.Sprintf("c%d", i), "u1", t0)
			d.Add(ledger.SevaPoints, 1)
			_, _, err := cs.s.ApplyDelta(cs.ctx(), d)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		cs.Require().NoError(err)
	}
	l, err := cs.s.GetLedger(cs.ctx(), "u1")
	cs.Require().NoError(err)
	cs.Equal(20.0, l.Balances[ledger.SevaPoints])
	cs.Equal(int64(20), l.Version)
}

func (cs *ContractSuite) TestDeltaJournal() {
	d := paapDelta("e1", "u1", 3)
	_, _, err := cs.s.ApplyDelta(cs.ctx(), d)
	cs.Require().NoError(err)

	got, err := cs.s.GetDelta(cs.ctx(), "e1")
	cs.Require().NoError(err)
	cs.Equal("u1", got.UserID)
	cs.Equal(3.0, got.Tokens[ledger.AdridhaKarma])
	cs.Require().Len(got.NewPaap, 1)
	cs.Equal("paap-e1", got.NewPaap[0].ID)

	_, err = cs.s.GetDelta(cs.ctx(), "never")
	cs.ErrorIs(err, karma.ErrNotFound)
}

func (cs *ContractSuite) TestAuditOncePerEvent() {
	ctx := cs.ctx()
	rec := karma.AuditRecord{ID: "a1", EventID: "e1", UserID: "u1", Timestamp: t0}
	cs.Require().NoError(cs.s.AppendAudit(ctx, rec))
	cs.Require().NoError(cs.s.AppendAudit(ctx, rec), "a resent record is accepted")
	cs.Require().NoError(cs.s.AppendAudit(ctx, karma.AuditRecord{ID: "a2", EventID: "e1", UserID: "u1", Timestamp: t0}))

	recs, err := cs.s.ListAudit(ctx, "u1", 0)
	cs.Require().NoError(err)
	cs.Require().Len(recs, 1)
	cs.Equal("a1", recs[0].ID)

	found, err := cs.s.FindAudit(ctx, "e1")
	cs.Require().NoError(err)
	cs.Equal("a1", found.ID)
	_, err = cs.s.FindAudit(ctx, "e2")
	cs.ErrorIs(err, karma.ErrNotFound)
}

func (cs *ContractSuite) TestAuditAppendAndList() {
	for i := 0; i < 5; i++ {
		cs.Require().NoError(cs.s.AppendAudit(cs.ctx(), karma.AuditRecord{
			ID:        fmt.Sprintf("a%d", i),
			EventID:   fmt.Sprintf("e%d", i),
			UserID:    "u1",
			Flags:     []karma.Flag{karma.FlagUnclassifiedAction},
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	cs.Require().NoError(cs.s.AppendAudit(cs.ctx(), karma.AuditRecord{ID: "other", UserID: "u2", Timestamp: t0}))

	all, err := cs.s.ListAudit(cs.ctx(), "u1", 0)
	cs.Require().NoError(err)
	cs.Len(all, 5)
	cs.Equal("a0", all[0].ID)
	cs.True(all[0].HasFlag(karma.FlagUnclassifiedAction))

	last, err := cs.s.ListAudit(cs.ctx(), "u1", 2)
	cs.Require().NoError(err)
	cs.Require().Len(last, 2)
	cs.Equal("a3", last[0].ID)
	cs.Equal("a4", last[1].ID)
}

func (cs *ContractSuite) TestDebtMergeResolve() {
	ctx := cs.ctx()
	first, created, err := cs.s.MergeDebt(ctx, karma.DebtRelationship{
		ID: "d1", DebtorID: "alice", CreditorID: "bob", Magnitude: 3, OriginEventID: "e1", CreatedAt: t0, UpdatedAt: t0,
	})
	cs.Require().NoError(err)
	cs.True(created)
	cs.Equal("d1", first.ID)

	merged, created, err := cs.s.MergeDebt(ctx, karma.DebtRelationship{
		ID: "d2", DebtorID: "alice", CreditorID: "bob", Magnitude: 2, OriginEventID: "e2", CreatedAt: t0, UpdatedAt: t0.Add(time.Hour),
	})
	cs.Require().NoError(err)
	cs.False(created)
	cs.Equal("d1", merged.ID)
	cs.InDelta(5.0, merged.Magnitude, 1e-9)

	// Reverse direction is a separate edge.
	_, created, err = cs.s.MergeDebt(ctx, karma.DebtRelationship{
		ID: "d3", DebtorID: "bob", CreditorID: "alice", Magnitude: 1, OriginEventID: "e3", CreatedAt: t0, UpdatedAt: t0,
	})
	cs.Require().NoError(err)
	cs.True(created)

	open, err := cs.s.GetUnresolvedDebt(ctx, "alice", "bob")
	cs.Require().NoError(err)
	cs.InDelta(5.0, open.Magnitude, 1e-9)

	resolved, err := cs.s.ResolveDebt(ctx, "alice", "bob", "e9", t0.Add(2*time.Hour))
	cs.Require().NoError(err)
	cs.True(resolved.Resolved)
	cs.Equal("e9", resolved.ResolutionEventID)
	cs.Require().NotNil(resolved.ResolvedAt)

	_, err = cs.s.ResolveDebt(ctx, "alice", "bob", "e10", t0)
	cs.ErrorIs(err, karma.ErrNotFound)
	_, err = cs.s.GetUnresolvedDebt(ctx, "alice", "bob")
	cs.ErrorIs(err, karma.ErrNotFound)

	// A new offence opens a fresh edge; history is kept.
	_, created, err = cs.s.MergeDebt(ctx, karma.DebtRelationship{
		ID: "d4", DebtorID: "alice", CreditorID: "bob", Magnitude: 1, OriginEventID: "e11", CreatedAt: t0, UpdatedAt: t0,
	})
	cs.Require().NoError(err)
	cs.True(created)

	debts, err := cs.s.ListDebts(ctx, "alice")
	cs.Require().NoError(err)
	cs.Len(debts, 3)
	summary := karma.Summarize("alice", debts)
	cs.InDelta(1.0, summary.TotalDebt, 1e-9)
	cs.InDelta(1.0, summary.TotalCredit, 1e-9)
}

func (cs *ContractSuite) TestDebtWritesReplay() {
	ctx := cs.ctx()
	edge := karma.DebtRelationship{
		ID: "d1", DebtorID: "a", CreditorID: "b", Magnitude: 5, OriginEventID: "e1", CreatedAt: t0, UpdatedAt: t0,
	}
	_, created, err := cs.s.MergeDebt(ctx, edge)
	cs.Require().NoError(err)
	cs.True(created)

	again, created, err := cs.s.MergeDebt(ctx, edge)
	cs.Require().NoError(err)
	cs.True(created, "a replay reports what the original write did")
	cs.InDelta(5.0, again.Magnitude, 1e-9)

	second := edge
	second.ID, second.OriginEventID = "d2", "e2"
	merged, created, err := cs.s.MergeDebt(ctx, second)
	cs.Require().NoError(err)
	cs.False(created)
	cs.InDelta(10.0, merged.Magnitude, 1e-9)
	merged, created, err = cs.s.MergeDebt(ctx, second)
	cs.Require().NoError(err)
	cs.False(created)
	cs.InDelta(10.0, merged.Magnitude, 1e-9)

	resolved, err := cs.s.ResolveDebt(ctx, "a", "b", "e3", t0)
	cs.Require().NoError(err)
	replayed, err := cs.s.ResolveDebt(ctx, "a", "b", "e3", t0)
	cs.Require().NoError(err)
	cs.Equal(resolved.ID, replayed.ID)
	cs.Equal(karma.ResolutionAtoned, replayed.Resolution)
	_, err = cs.s.ResolveDebt(ctx, "a", "b", "e4", t0)
	cs.ErrorIs(err, karma.ErrNotFound)
}

func (cs *ContractSuite) TestRepayDebt() {
	ctx := cs.ctx()
	_, _, err := cs.s.MergeDebt(ctx, karma.DebtRelationship{
		ID: "d1", DebtorID: "a", CreditorID: "b", Magnitude: 10, OriginEventID: "e1", CreatedAt: t0, UpdatedAt: t0,
	})
	cs.Require().NoError(err)

	at := t0.Add(time.Hour)
	d, err := cs.s.RepayDebt(ctx, "d1", 4, "r1", at)
	cs.Require().NoError(err)
	cs.InDelta(6.0, d.Magnitude, 1e-9)
	cs.InDelta(4.0, d.Repaid, 1e-9)
	cs.False(d.Resolved)

	d, err = cs.s.RepayDebt(ctx, "d1", 4, "r1", at)
	cs.Require().NoError(err)
	cs.InDelta(6.0, d.Magnitude, 1e-9, "a replayed repayment is applied once")

	_, err = cs.s.RepayDebt(ctx, "d1", 7, "r2", at)
	cs.ErrorIs(err, karma.ErrInvalidDebtOp)
	_, err = cs.s.RepayDebt(ctx, "d1", 0, "r3", at)
	cs.ErrorIs(err, karma.ErrInvalidDebtOp)

	d, err = cs.s.RepayDebt(ctx, "d1", 6, "r4", at)
	cs.Require().NoError(err)
	cs.True(d.Resolved)
	cs.Zero(d.Magnitude)
	cs.Equal(karma.ResolutionRepaid, d.Resolution)
	cs.Equal("r4", d.ResolutionEventID)

	_, err = cs.s.GetUnresolvedDebt(ctx, "a", "b")
	cs.ErrorIs(err, karma.ErrNotFound)
	_, err = cs.s.RepayDebt(ctx, "d1", 1, "r5", at)
	cs.ErrorIs(err, karma.ErrConflict)
	_, err = cs.s.RepayDebt(ctx, "nope", 1, "r6", at)
	cs.ErrorIs(err, karma.ErrNotFound)

	got, err := cs.s.GetDebt(ctx, "d1")
	cs.Require().NoError(err)
	cs.InDelta(10.0, got.Repaid, 1e-9)
}

func (cs *ContractSuite) TestTransferDebt() {
	ctx := cs.ctx()
	for _, e := range []karma.DebtRelationship{
		{ID: "d1", DebtorID: "a", CreditorID: "c", Magnitude: 6, OriginEventID: "e1", CreatedAt: t0, UpdatedAt: t0},
		{ID: "d2", DebtorID: "b", CreditorID: "c", Magnitude: 1, OriginEventID: "e2", CreatedAt: t0, UpdatedAt: t0},
	} {
		_, _, err := cs.s.MergeDebt(ctx, e)
		cs.Require().NoError(err)
	}

	_, _, err := cs.s.TransferDebt(ctx, "d1", "c", "t0", t0)
	cs.ErrorIs(err, karma.ErrInvalidDebtOp)

	at := t0.Add(time.Hour)
	closed, succ, err := cs.s.TransferDebt(ctx, "d1", "b", "t1", at)
	cs.Require().NoError(err)
	cs.True(closed.Resolved)
	cs.Equal(karma.ResolutionTransferred, closed.Resolution)
	cs.Equal("b", closed.TransferredTo)
	cs.Equal("d2", succ.ID, "merged into the open edge of the new pair")
	cs.InDelta(7.0, succ.Magnitude, 1e-9)

	closed, succ, err = cs.s.TransferDebt(ctx, "d1", "b", "t1", at)
	cs.Require().NoError(err)
	cs.Equal("d1", closed.ID)
	cs.InDelta(7.0, succ.Magnitude, 1e-9, "a replayed transfer moves the debt once")

	_, _, err = cs.s.TransferDebt(ctx, "d1", "x", "t2", at)
	cs.ErrorIs(err, karma.ErrConflict)
	_, _, err = cs.s.TransferDebt(ctx, "nope", "x", "t3", at)
	cs.ErrorIs(err, karma.ErrNotFound)

	_, err = cs.s.GetUnresolvedDebt(ctx, "a", "c")
	cs.ErrorIs(err, karma.ErrNotFound)
	open, err := cs.s.GetUnresolvedDebt(ctx, "b", "c")
	cs.Require().NoError(err)
	cs.InDelta(7.0, open.Magnitude, 1e-9)

	// With no open edge on the new pair the transfer opens one.
	_, succ, err = cs.s.TransferDebt(ctx, "d2", "e", "t4", at)
	cs.Require().NoError(err)
	cs.Equal(karma.TransferEdgeID("t4"), succ.ID)
	cs.Equal("t4", succ.OriginEventID)
	debts, err := cs.s.ListDebts(ctx, "e")
	cs.Require().NoError(err)
	cs.Require().Len(debts, 1)
	cs.InDelta(7.0, debts[0].Magnitude, 1e-9)
}

func (cs *ContractSuite) TestConcurrentMergeKeepsSingleOpenEdge() {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := cs.s.MergeDebt(cs.ctx(), karma.DebtRelationship{
				ID: fmt.Sprintf("m%d", i), DebtorID: "x", CreditorID: "y", Magnitude: 1,
				OriginEventID: fmt.Sprintf("e%d", i), CreatedAt: t0, UpdatedAt: t0,
			})
			cs.NoError(err)
		}(i)
	}
	wg.Wait()

	debts, err := cs.s.ListDebts(cs.ctx(), "x")
	cs.Require().NoError(err)
	cs.Require().Len(debts, 1)
	cs.InDelta(10.0, debts[0].Magnitude, 1e-9)
}

func (cs *ContractSuite) TestPlanLifecycle() {
	ctx := cs.ctx()
	plan := karma.AtonementPlan{
		ID: "p1", UserID: "u1", Pillar: karma.PillarBhakti, Unit: "session", Quantity: 2, Intensity: 2,
		TargetSeverity: 8, StateKey: "b1|none", Status: karma.PlanProposed, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}
	cs.Require().NoError(cs.s.SavePlan(ctx, plan))
	cs.Require().NoError(cs.s.SavePlan(ctx, karma.AtonementPlan{ID: "p0", UserID: "u1", Status: karma.PlanExpired, CreatedAt: t0.Add(-time.Hour)}))

	got, err := cs.s.GetPlan(ctx, "p1")
	cs.Require().NoError(err)
	cs.Equal(plan.Pillar, got.Pillar)
	cs.True(plan.ExpiresAt.Equal(got.ExpiresAt))

	plans, err := cs.s.ListPlans(ctx, "u1")
	cs.Require().NoError(err)
	cs.Require().Len(plans, 2)
	cs.Equal("p0", plans[0].ID)

	accepted := got
	accepted.Status = karma.PlanAccepted
	cs.Require().NoError(cs.s.TransitionPlan(ctx, accepted, karma.PlanProposed))
	cs.NoError(cs.s.TransitionPlan(ctx, accepted, karma.PlanProposed), "repeating a committed transition is a no-op")
	expired := got
	expired.Status = karma.PlanExpired
	cs.ErrorIs(cs.s.TransitionPlan(ctx, expired, karma.PlanProposed), karma.ErrConflict)

	done := accepted
	done.Status = karma.PlanCompleted
	at := t0.Add(30 * time.Minute)
	done.CompletedAt = &at
	done.Evidence = &karma.Evidence{Quantity: 2, Unit: "session"}
	cs.Require().NoError(cs.s.TransitionPlan(ctx, done, karma.PlanAccepted))
	cs.NoError(cs.s.TransitionPlan(ctx, done, karma.PlanAccepted))
	other := done
	other.Evidence = &karma.Evidence{Quantity: 3, Unit: "session"}
	cs.ErrorIs(cs.s.TransitionPlan(ctx, other, karma.PlanAccepted), karma.ErrConflict)

	got, err = cs.s.GetPlan(ctx, "p1")
	cs.Require().NoError(err)
	cs.Equal(karma.PlanCompleted, got.Status)
	cs.Require().NotNil(got.CompletedAt)
	cs.Require().NotNil(got.Evidence)
	cs.Equal(2.0, got.Evidence.Quantity)

	_, err = cs.s.GetPlan(ctx, "missing")
	cs.ErrorIs(err, karma.ErrNotFound)
	cs.ErrorIs(cs.s.TransitionPlan(ctx, karma.AtonementPlan{ID: "missing"}, karma.PlanProposed), karma.ErrNotFound)
}

func (cs *ContractSuite) TestPolicyRoundTrip() {
	ctx := cs.ctx()
	_, err := cs.s.LoadPolicy(ctx)
	cs.ErrorIs(err, karma.ErrNotFound)

	snap := recommender.Snapshot{Entries: []recommender.Entry{
		{State: "b1|none", Pillar: karma.PillarDaan, Intensity: 1, Value: -0.25},
		{State: "b2|Tap", Pillar: karma.PillarTap, Intensity: 3, Value: 0.5},
	}}
	cs.Require().NoError(cs.s.SavePolicy(ctx, snap))
	snap.Entries[0].Value = 0.1
	cs.Require().NoError(cs.s.SavePolicy(ctx, snap))

	got, err := cs.s.LoadPolicy(ctx)
	cs.Require().NoError(err)
	cs.Equal(snap, got)
}

func (cs *ContractSuite) TestPing() {
	cs.NoError(cs.s.Ping(cs.ctx()))
}

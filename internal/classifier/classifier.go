// Package classifier splits a user's unresolved Paap entries into active
// (Prarabdha) and accumulated (Sanchita) karma and keeps the debt graph
// between users up to date.
package classifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

// DebtStore is the slice of the document store the classifier needs.
type DebtStore interface {
	MergeDebt(ctx context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error)
	ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error)
}

// Classifier is stateless apart from its configuration.
type Classifier struct {
	topN  int
	newID func() string
}

// New returns a Classifier that keeps the topN largest entries active.
func New(topN int) *Classifier {
	if topN < 1 {
		topN = 1
	}
	return &Classifier{topN: topN, newID: uuid.NewString}
}

// Split classifies the unresolved entries of projected. The returned delta
// reclassifies entries whose class changes and moves the SanchitaKarma and
// PrarabdhaKarma balances to the class magnitude totals.
func (c *Classifier) Split(projected *ledger.Ledger, at time.Time) (ledger.Delta, karma.ClassifierOutcome) {
	d := ledger.NewDelta("", projected.UserID, at)
	out := karma.ClassifierOutcome{Prarabdha: []string{}, Sanchita: []string{}, DebtAction: karma.DebtNone}

	for i, e := range projected.Unresolved() {
		want := ledger.ClassSanchita
		if i < c.topN {
			want = ledger.ClassPrarabdha
		}
		if e.Class != want {
			if d.Reclassify == nil {
				d.Reclassify = make(map[string]ledger.Class)
			}
			d.Reclassify[e.ID] = want
		}
		if want == ledger.ClassPrarabdha {
			out.Prarabdha = append(out.Prarabdha, e.ID)
			out.PrarabdhaTotal += e.Magnitude
			out.ActiveSeverity += e.Severity
		} else {
			out.Sanchita = append(out.Sanchita, e.ID)
			out.SanchitaTotal += e.Magnitude
		}
	}

	d.Add(ledger.PrarabdhaKarma, out.PrarabdhaTotal-projected.Balances[ledger.PrarabdhaKarma])
	d.Add(ledger.SanchitaKarma, out.SanchitaTotal-projected.Balances[ledger.SanchitaKarma])
	return d, out
}

// DebtResult is the outcome of debt bookkeeping for one event.
type DebtResult struct {
	Action karma.DebtAction
	Edge   *karma.DebtRelationship
	Flags  []karma.Flag
}

// Debts updates the debt graph for ev. A negative event naming a counterpart
// merges magnitude into the actor's edge toward the counterpart; an atonement
// naming a counterpart resolves that edge. Failures never propagate: they are
// reported as flags.
func (c *Classifier) Debts(ctx context.Context, store DebtStore, ev *event.Event, paapMagnitude float64) DebtResult {
	res := DebtResult{Action: karma.DebtNone}
	if !ev.HasCounterpart() {
		return res
	}
	counterpart := strings.TrimSpace(ev.CounterpartID)
	isAtonement := ev.Type.IsAtonement()
	if paapMagnitude <= 0 && !isAtonement {
		return res
	}
	if counterpart == ev.UserID {
		res.Flags = append(res.Flags, karma.FlagSelfCounterpart)
		return res
	}

	if isAtonement {
		edge, err := store.ResolveDebt(ctx, ev.UserID, counterpart, ev.ID, ev.Timestamp)
		switch {
		case errors.Is(err, karma.ErrNotFound):
			res.Flags = append(res.Flags, karma.FlagNoDebtToResolve)
		case err != nil:
			res.Flags = append(res.Flags, karma.FlagDebtResolveFailed)
		default:
			res.Action = karma.DebtResolved
			res.Edge = &edge
		}
		return res
	}

	edge, created, err := store.MergeDebt(ctx, karma.DebtRelationship{
		ID:            c.newID(),
		DebtorID:      ev.UserID,
		CreditorID:    counterpart,
		Magnitude:     paapMagnitude,
		OriginEventID: ev.ID,
		CreatedAt:     ev.Timestamp,
		UpdatedAt:     ev.Timestamp,
	})
	if err != nil {
		res.Flags = append(res.Flags, karma.FlagDebtMergeFailed)
		return res
	}
	res.Action = karma.DebtMerged
	if created {
		res.Action = karma.DebtCreated
	}
	res.Edge = &edge
	return res
}

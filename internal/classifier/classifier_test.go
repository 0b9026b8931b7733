package classifier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/classifier"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

var t0 = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

type mockDebts struct{ mock.Mock }

func (m *mockDebts) MergeDebt(ctx context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	args := m.Called(ctx, edge)
	return args.Get(0).(karma.DebtRelationship), args.Bool(1), args.Error(2)
}

func (m *mockDebts) ResolveDebt(ctx context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error) {
	args := m.Called(ctx, debtorID, creditorID, eventID, at)
	return args.Get(0).(karma.DebtRelationship), args.Error(1)
}

func TestSplit_TopNArePrarabdha(t *testing.T) {
	l := ledger.New("u1")
	l.Balances[ledger.SanchitaKarma] = 1
	l.Paap = []ledger.PaapEntry{
		{ID: "a", Severity: 2, Magnitude: 2, Class: ledger.ClassSanchita},
		{ID: "b", Severity: 9, Magnitude: 9, Class: ledger.ClassSanchita},
		{ID: "c", Severity: 5, Magnitude: 5, Class: ledger.ClassPrarabdha},
		{ID: "d", Severity: 7, Magnitude: 7, Class: ledger.ClassPrarabdha},
		{ID: "r", Severity: 10, Magnitude: 10, Class: ledger.ClassPrarabdha, Resolved: true},
	}

	d, out := classifier.New(2).Split(l, t0)
	assert.Equal(t, []string{"b", "d"}, out.Prarabdha)
	assert.Equal(t, []string{"c", "a"}, out.Sanchita)
	assert.Equal(t, 16, out.ActiveSeverity)
	assert.Equal(t, map[string]ledger.Class{"b": ledger.ClassPrarabdha, "c": ledger.ClassSanchita}, d.Reclassify)

	after, err := ledger.Apply(l, d)
	require.NoError(t, err)
	assert.Equal(t, 16.0, after.Balances[ledger.PrarabdhaKarma])
	assert.Equal(t, 7.0, after.Balances[ledger.SanchitaKarma])
	assert.Equal(t, 16, after.ActiveSeverity())

	// Classifying a consistent ledger is a no-op.
	again, _ := classifier.New(2).Split(after, t0)
	assert.Empty(t, again.Reclassify)
	assert.Empty(t, again.Tokens)
}

func negative(counterpart string) *event.Event {
	return &event.Event{ID: "e1", UserID: "alice", Type: event.TypeLifeEvent, CounterpartID: counterpart, Timestamp: t0}
}

func TestDebts_NoCounterpartOrPositive(t *testing.T) {
	store := &mockDebts{}
	c := classifier.New(3)
	assert.Equal(t, karma.DebtNone, c.Debts(context.Background(), store, negative(""), 5).Action)
	assert.Equal(t, karma.DebtNone, c.Debts(context.Background(), store, negative("bob"), 0).Action)
	store.AssertNotCalled(t, "MergeDebt", mock.Anything, mock.Anything)
}

func TestDebts_SelfCounterpartFlagged(t *testing.T) {
	store := &mockDebts{}
	res := classifier.New(3).Debts(context.Background(), store, negative("alice"), 5)
	assert.Equal(t, karma.DebtNone, res.Action)
	assert.Equal(t, []karma.Flag{karma.FlagSelfCounterpart}, res.Flags)
	store.AssertExpectations(t)
}

func TestDebts_MergeCreates(t *testing.T) {
	store := &mockDebts{}
	store.On("MergeDebt", mock.Anything, mock.MatchedBy(func(e karma.DebtRelationship) bool {
		return e.DebtorID == "alice" && e.CreditorID == "bob" && e.Magnitude == 5 && e.OriginEventID == "e1" && e.ID != ""
	})).Return(karma.DebtRelationship{ID: "d1", DebtorID: "alice", CreditorID: "bob", Magnitude: 5}, true, nil)

	res := classifier.New(3).Debts(context.Background(), store, negative(" bob "), 5)
	assert.Equal(t, karma.DebtCreated, res.Action)
	require.NotNil(t, res.Edge)
	assert.Equal(t, "d1", res.Edge.ID)
	store.AssertExpectations(t)
}

func TestDebts_MergeFailureIsFlag(t *testing.T) {
	store := &mockDebts{}
	store.On("MergeDebt", mock.Anything, mock.Anything).Return(karma.DebtRelationship{}, false, errors.New("down"))

	res := classifier.New(3).Debts(context.Background(), store, negative("bob"), 5)
	assert.Equal(t, karma.DebtNone, res.Action)
	assert.Equal(t, []karma.Flag{karma.FlagDebtMergeFailed}, res.Flags)
}

func TestDebts_AtonementResolves(t *testing.T) {
	ev := &event.Event{ID: "e9", UserID: "alice", Type: event.TypeAtonement, CounterpartID: "bob", Timestamp: t0}

	store := &mockDebts{}
	store.On("ResolveDebt", mock.Anything, "alice", "bob", "e9", t0).
		Return(karma.DebtRelationship{ID: "d1", Resolved: true}, nil).Once()
	res := classifier.New(3).Debts(context.Background(), store, ev, 0)
	assert.Equal(t, karma.DebtResolved, res.Action)
	assert.True(t, res.Edge.Resolved)

	store.On("ResolveDebt", mock.Anything, "alice", "bob", "e9", t0).
		Return(karma.DebtRelationship{}, karma.ErrNotFound).Once()
	res = classifier.New(3).Debts(context.Background(), store, ev, 0)
	assert.Equal(t, []karma.Flag{karma.FlagNoDebtToResolve}, res.Flags)
	store.AssertExpectations(t)
}

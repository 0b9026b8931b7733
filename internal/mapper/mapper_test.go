package mapper_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/mapper"
	"github.com/gyaneshwarpardhi/karmachain/internal/purushartha"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func params() mapper.Params { return mapper.ParamsFromConfig(config.Default().Tokens) }

func score(composite float64, axes purushartha.Vector, irreversible bool) purushartha.Score {
	return purushartha.Score{Composite: composite, Axes: axes, FeatureScale: 1, Irreversible: irreversible}
}

func ev(id string, role event.Role) *event.Event {
	return &event.Event{ID: id, UserID: "u1", Role: role, Timestamp: t0}
}

func TestSeverity(t *testing.T) {
	cases := map[float64]int{-0.01: 1, -0.04: 1, -0.05: 1, -0.26: 3, -0.55: 6, -0.94: 9, -1: 10}
	for c, want := range cases {
		assert.Equal(t, want, mapper.Severity(c), "composite %v", c)
	}
}

func TestMap_PositiveSplitsByAxisMix(t *testing.T) {
	s := score(0.4, purushartha.Vector{0.6, 0.1, 0.3, 0.4}, false)
	d := mapper.Map(ev("e1", event.RoleHuman), s, params())

	assert.Equal(t, "e1", d.ID)
	assert.Empty(t, d.NewPaap)
	total := 4.0 // 0.4 * merit scale 10
	assert.InDelta(t, total*0.6/1.4, d.Tokens[ledger.DharmaPoints], 1e-9)
	assert.InDelta(t, total*0.4/1.4, d.Tokens[ledger.SevaPoints], 1e-9)
	assert.InDelta(t, total*0.4/1.4, d.Tokens[ledger.PunyaTokens], 1e-9)
	assert.NotContains(t, d.Tokens, ledger.PaapTokens)
}

func TestMap_NegativeCreatesPaapEntry(t *testing.T) {
	s := score(-0.56, purushartha.Vector{-0.7, -0.3, -0.2, -0.6}, false)
	d := mapper.Map(ev("e2", event.RoleLearner), s, params())

	require.Len(t, d.NewPaap, 1)
	p := d.NewPaap[0]
	assert.Equal(t, "paap-e2", p.ID)
	assert.Equal(t, 6, p.Severity)
	assert.InDelta(t, 5.6, p.Magnitude, 1e-9)
	assert.Equal(t, ledger.ClassSanchita, p.Class)
	assert.InDelta(t, 5.6, d.Tokens[ledger.AdridhaKarma], 1e-9)
	assert.NotContains(t, d.Tokens, ledger.DridhaKarma)
}

func TestMap_IrreversibleHumanIsDridha(t *testing.T) {
	s := score(-0.8, purushartha.Vector{-0.9, -0.6, -0.9, -0.8}, true)

	human := mapper.Map(ev("e3", event.RoleHuman), s, params())
	assert.InDelta(t, 8.0, human.Tokens[ledger.DridhaKarma], 1e-9)
	assert.NotContains(t, human.Tokens, ledger.AdridhaKarma)

	guru := mapper.Map(ev("e4", event.RoleGuru), s, params())
	assert.InDelta(t, 8.0, guru.Tokens[ledger.AdridhaKarma], 1e-9)
}

func TestMap_ZeroIsEmpty(t *testing.T) {
	d := mapper.Map(ev("e5", event.RoleHuman), purushartha.Neutral(), params())
	assert.True(t, d.IsEmpty())
}

func TestMap_Deterministic(t *testing.T) {
	s := score(-0.33, purushartha.Vector{-0.5, -0.1, -0.1, -0.3}, false)
	a := mapper.Map(ev("e6", event.RoleHuman), s, params())
	b := mapper.Map(ev("e6", event.RoleHuman), s, params())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("non-deterministic delta (-a +b):\n%s", diff)
	}
}

func TestDecay(t *testing.T) {
	p := params()
	l := ledger.New("u1")
	l.Balances[ledger.SevaPoints] = 100
	l.Balances[ledger.DridhaKarma] = 50
	l.Balances[ledger.AdridhaKarma] = 50
	l.Balances[ledger.DharmaPoints] = 10

	first := mapper.Decay(l, t0, p)
	assert.Empty(t, first.Tokens)
	assert.Equal(t, t0, first.DecayedAt)

	l.LastDecayAt = t0
	d := mapper.Decay(l, t0.Add(100*24*time.Hour), p)
	after, err := ledger.Apply(l, d)
	require.NoError(t, err)

	assert.Less(t, after.Balances[ledger.SevaPoints], 100.0)
	assert.Greater(t, after.Balances[ledger.SevaPoints], 0.0)
	assert.Equal(t, 10.0, after.Balances[ledger.DharmaPoints])
	// Flexible karma fades faster than fixed karma.
	assert.Less(t, after.Balances[ledger.AdridhaKarma], after.Balances[ledger.DridhaKarma])
	assert.Equal(t, t0.Add(100*24*time.Hour), after.LastDecayAt)

	backwards := mapper.Decay(l, t0.Add(-time.Hour), p)
	assert.True(t, backwards.IsEmpty())
}

func TestDecay_Monotonic(t *testing.T) {
	p := params()
	l := ledger.New("u1")
	l.Balances[ledger.AdridhaKarma] = 30
	l.LastDecayAt = t0

	prev := l.Balances[ledger.AdridhaKarma]
	for day := 1; day <= 30; day++ {
		d := mapper.Decay(l, t0.Add(time.Duration(day)*24*time.Hour), p)
		next, err := ledger.Apply(l, d)
		require.NoError(t, err)
		assert.LessOrEqual(t, next.Balances[ledger.AdridhaKarma], prev)
		prev = next.Balances[ledger.AdridhaKarma]
		l = next
	}
}

func TestAtone_PrarabdhaFirstWithinBudget(t *testing.T) {
	l := ledger.New("u1")
	l.Balances[ledger.AdridhaKarma] = 20
	l.Paap = []ledger.PaapEntry{
		{ID: "big-sanchita", Severity: 8, Magnitude: 8, Class: ledger.ClassSanchita},
		{ID: "p1", Severity: 5, Magnitude: 5, Class: ledger.ClassPrarabdha},
		{ID: "p2", Severity: 3, Magnitude: 3, Class: ledger.ClassPrarabdha},
		{ID: "s1", Severity: 2, Magnitude: 2, Class: ledger.ClassSanchita},
	}
	a := mapper.Atonement{TargetSeverity: 10, Intensity: 3, MaxIntensity: 3, Effectiveness: 1.0}
	assert.Equal(t, 10.0, a.Budget())

	d := mapper.Atone(l, "completion:plan-1", t0, a)
	assert.Equal(t, "completion:plan-1", d.ID)
	assert.Equal(t, []string{"p1", "p2", "s1"}, d.ResolvePaap)
	assert.InDelta(t, -10.0, d.Tokens[ledger.AdridhaKarma], 1e-9)
	assert.InDelta(t, 1.0, d.Tokens[ledger.PunyaTokens], 1e-9)

	after, err := ledger.Apply(l, d)
	require.NoError(t, err)
	assert.Equal(t, 8, after.AggregateSeverity())
}

func TestAtone_LowIntensityClearsLess(t *testing.T) {
	l := ledger.New("u1")
	l.Paap = []ledger.PaapEntry{
		{ID: "p1", Severity: 4, Magnitude: 4, Class: ledger.ClassPrarabdha},
		{ID: "p2", Severity: 4, Magnitude: 4, Class: ledger.ClassPrarabdha},
	}
	low := mapper.Atone(l, "x", t0, mapper.Atonement{TargetSeverity: 8, Intensity: 1, MaxIntensity: 3, Effectiveness: 1.5})
	high := mapper.Atone(l, "x", t0, mapper.Atonement{TargetSeverity: 8, Intensity: 3, MaxIntensity: 3, Effectiveness: 1.5})
	assert.Len(t, low.ResolvePaap, 1)
	assert.Len(t, high.ResolvePaap, 2)
}

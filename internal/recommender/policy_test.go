package recommender_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func newPolicy() *recommender.Policy {
	return recommender.New(recommender.ParamsFromConfig(config.Default().Recommender))
}

func TestBucket(t *testing.T) {
	p := newPolicy()
	cases := map[int]int{0: 0, 4: 0, 5: 1, 9: 1, 10: 2, 19: 2, 20: 3, 39: 3, 40: 4, 400: 4}
	for sev, want := range cases {
		assert.Equal(t, want, p.Bucket(sev), "severity %d", sev)
	}
}

func TestStateKeyRoundTrip(t *testing.T) {
	for _, s := range []recommender.State{{Bucket: 0, Last: recommender.NoPillar}, {Bucket: 3, Last: karma.PillarTap}} {
		got, err := recommender.ParseState(s.Key())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, bad := range []string{"", "b1", "x1|Daan", "b1|Yoga", "bx|Daan"} {
		_, err := recommender.ParseState(bad)
		assert.Error(t, err, bad)
	}
}

func TestRecommend_TiesPreferLeastImposition(t *testing.T) {
	p := newPolicy()
	plan, err := p.Recommend("u1", 12, "", t0)
	require.NoError(t, err)

	assert.Equal(t, karma.PillarDaan, plan.Pillar)
	assert.Equal(t, 1, plan.Intensity)
	assert.Equal(t, "donation", plan.Unit)
	assert.Equal(t, 30.0, plan.Quantity) // 10 * 1 * (1 + bucket 2)
	assert.Equal(t, karma.PlanProposed, plan.Status)
	assert.Equal(t, "b2|none", plan.StateKey)
	assert.Equal(t, 12, plan.TargetSeverity)
	assert.Equal(t, t0.Add(7*24*time.Hour), plan.ExpiresAt)
	assert.NotEmpty(t, plan.ID)
}

func TestObserve_UpdatesOnceAndShiftsPolicy(t *testing.T) {
	p := newPolicy()
	plan, err := p.Recommend("u1", 12, "", t0)
	require.NoError(t, err)

	// Daan@1 failed to help: negative reward.
	r, err := p.Observe(plan, 12, 12)
	require.NoError(t, err)
	assert.InDelta(t, -0.05, r, 1e-9)
	assert.Equal(t, 1, p.Len())

	s, _ := recommender.ParseState(plan.StateKey)
	assert.InDelta(t, 0.15*-0.05, p.Q(s, recommender.Action{Pillar: karma.PillarDaan, Intensity: 1}), 1e-12)

	next, err := p.Recommend("u1", 12, "", t0)
	require.NoError(t, err)
	assert.Equal(t, karma.PillarBhakti, next.Pillar)
	assert.Equal(t, 1, next.Intensity)
}

func TestObserve_PositiveRewardReinforces(t *testing.T) {
	p := newPolicy()
	s := p.StateFor(12, recommender.NoPillar)
	tap := karma.AtonementPlan{Pillar: karma.PillarTap, Intensity: 3, StateKey: s.Key()}

	r, err := p.Observe(tap, 12, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1-0.15, r, 1e-9)

	a, v := p.Best(s)
	assert.Equal(t, recommender.Action{Pillar: karma.PillarTap, Intensity: 3}, a)
	assert.Greater(t, v, 0.0)
}

func TestObserve_RejectsUnknown(t *testing.T) {
	p := newPolicy()
	_, err := p.Observe(karma.AtonementPlan{Pillar: karma.PillarDaan, Intensity: 9, StateKey: "b0|none"}, 5, 1)
	assert.Error(t, err)
	_, err = p.Observe(karma.AtonementPlan{Pillar: karma.PillarDaan, Intensity: 1, StateKey: "b99|none"}, 5, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestTableStaysBounded(t *testing.T) {
	p := newPolicy()
	for before := 0; before < 60; before++ {
		for _, a := range p.Actions() {
			for _, last := range []karma.Pillar{"", karma.PillarDaan, karma.PillarBhakti, karma.PillarTap} {
				plan := karma.AtonementPlan{Pillar: a.Pillar, Intensity: a.Intensity, StateKey: p.StateFor(before, last).Key()}
				_, err := p.Observe(plan, before, before/2)
				require.NoError(t, err)
			}
		}
	}
	assert.Equal(t, p.MaxEntries(), p.Len())
	assert.Equal(t, 5*4*9, p.MaxEntries())
}

func TestSnapshotRestore(t *testing.T) {
	p := newPolicy()
	s := p.StateFor(25, karma.PillarBhakti)
	_, err := p.Observe(karma.AtonementPlan{Pillar: karma.PillarTap, Intensity: 2, StateKey: s.Key()}, 25, 10)
	require.NoError(t, err)

	snap := p.Snapshot()
	snap.Entries = append(snap.Entries, recommender.Entry{State: "b42|none", Pillar: karma.PillarDaan, Intensity: 1, Value: 3})

	q := newPolicy()
	assert.Equal(t, 1, q.Restore(snap))
	if diff := cmp.Diff(p.Snapshot(), q.Snapshot()); diff != "" {
		t.Errorf("restored table differs (-want +got):\n%s", diff)
	}
}

func TestConcurrentRecommendObserve(t *testing.T) {
	p := newPolicy()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = p.Recommend("u", j%50, karma.PillarDaan, t0)
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				plan := karma.AtonementPlan{Pillar: karma.PillarBhakti, Intensity: 1 + i%3, StateKey: p.StateFor(j%50, "").Key()}
				_, _ = p.Observe(plan, j%50, 0)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, p.Len(), p.MaxEntries())
}

package purushartha_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/feature"
	"github.com/gyaneshwarpardhi/karmachain/internal/purushartha"
)

type mockFeatures struct{ mock.Mock }

func (m *mockFeatures) Apply(ev *event.Event) (feature.Match, error) {
	args := m.Called(ev)
	return args.Get(0).(feature.Match), args.Error(1)
}

func scoring(t *testing.T) config.ScoringConf {
	t.Helper()
	sc := config.Default().Scoring
	sc.Weights = config.Weights{Dharma: 0.4, Artha: 0.2, Kama: 0.2, Moksha: 0.2}
	return sc
}

func TestEvaluate_HelpIsPositive(t *testing.T) {
	ev := purushartha.New(scoring(t), nil)
	s, err := ev.Evaluate(&event.Event{
		Type: event.TypeLifeEvent, Action: "help", Role: "human", Description: "helped colleague",
	})
	require.NoError(t, err)
	// 0.4*0.6 + 0.2*0.1 + 0.2*0.3 + 0.2*0.4
	assert.InDelta(t, 0.40, s.Composite, 1e-9)
	assert.Greater(t, s.Composite, 0.0)
	assert.False(t, s.Irreversible)
}

func TestEvaluate_CompositeBounded(t *testing.T) {
	ev := purushartha.New(scoring(t), nil)
	for _, action := range []event.Action{"violence", "selfless_service", "theft", "meditate"} {
		for _, role := range event.Roles() {
			s, err := ev.Evaluate(&event.Event{Action: action, Role: role, Intensity: 2})
			require.NoError(t, err)
			assert.LessOrEqual(t, math.Abs(s.Composite), 1.0)
			for _, v := range s.Axes {
				assert.LessOrEqual(t, math.Abs(v), 1.0)
			}
		}
	}
}

func TestEvaluate_RoleFactorScales(t *testing.T) {
	ev := purushartha.New(scoring(t), nil)
	learner, err := ev.Evaluate(&event.Event{Action: "cheat", Role: "learner"})
	require.NoError(t, err)
	guru, err := ev.Evaluate(&event.Event{Action: "cheat", Role: "GURU"})
	require.NoError(t, err)
	assert.Less(t, guru.Composite, learner.Composite)
	assert.InDelta(t, learner.Composite/0.8*1.2, guru.Composite, 1e-9)
}

func TestEvaluate_Unclassified(t *testing.T) {
	ev := purushartha.New(scoring(t), nil)
	tests := []struct {
		ev         event.Event
		wantRole   event.Role
		wantAction event.Action
	}{
		{event.Event{Action: "juggling", Role: "human"}, event.RoleHuman, event.ActionUnclassified},
		{event.Event{Action: "help", Role: "alien"}, event.RoleUnclassified, event.ActionHelp},
	}
	for _, tt := range tests {
		s, err := ev.Evaluate(&tt.ev)
		var uerr *purushartha.UnclassifiedActionError
		require.True(t, errors.As(err, &uerr))
		assert.Equal(t, tt.ev.Action, uerr.Action)
		assert.Equal(t, tt.wantRole, uerr.ResolvedRole)
		assert.Equal(t, tt.wantAction, uerr.ResolvedAction)
		assert.Equal(t, 0.0, s.Composite)
		assert.Equal(t, tt.wantRole, s.Role)
		assert.Equal(t, tt.wantAction, s.Action)
	}
}

func TestEvaluate_ConfiguredActionResolves(t *testing.T) {
	sc := scoring(t)
	sc.Actions["chanting"] = config.ActionDef{Dharma: 0.2, Moksha: 0.6}
	ev := purushartha.New(sc, nil)

	s, err := ev.Evaluate(&event.Event{Action: "Chanting", Role: "Guru"})
	require.NoError(t, err)
	assert.Equal(t, event.Action("chanting"), s.Action)
	assert.Equal(t, event.RoleGuru, s.Role)
	assert.Greater(t, s.Composite, 0.0)
}

func TestEvaluate_FeatureScale(t *testing.T) {
	fm := &mockFeatures{}
	fm.On("Apply", mock.Anything).Return(feature.Match{Scale: 0.5, Names: []string{"minor"}}, nil).Once()

	ev := purushartha.New(scoring(t), fm)
	s, err := ev.Evaluate(&event.Event{Action: "help", Role: "human"})
	require.NoError(t, err)
	assert.InDelta(t, 0.20, s.Composite, 1e-9)
	assert.Equal(t, []string{"minor"}, s.Features)
	fm.AssertExpectations(t)
}

func TestEvaluate_FeatureErrorDegradesToUnitScale(t *testing.T) {
	fm := &mockFeatures{}
	fm.On("Apply", mock.Anything).Return(feature.Match{}, errors.New("boom"))

	ev := purushartha.New(scoring(t), fm)
	s, err := ev.Evaluate(&event.Event{Action: "help", Role: "human"})
	require.NoError(t, err)
	assert.Error(t, s.FeatureErr)
	assert.Equal(t, 1.0, s.FeatureScale)
	assert.InDelta(t, 0.40, s.Composite, 1e-9)
}

func TestFromConfig_CompilesFeatures(t *testing.T) {
	sc := scoring(t)
	sc.Features = []config.FeatureDef{{Name: "exam", When: `description contains "exam"`, Scale: 2}}
	ev, err := purushartha.FromConfig(sc)
	require.NoError(t, err)

	s, err := ev.Evaluate(&event.Event{Action: "break_promise", Role: "human", Description: "skipped exam duty"})
	require.NoError(t, err)
	assert.Equal(t, []string{"exam"}, s.Features)
	assert.Equal(t, 2.0, s.FeatureScale)
	assert.True(t, s.Composite < 0)

	p, ok := ev.Profile("VIOLENCE")
	require.True(t, ok)
	assert.True(t, p.Irreversible)
}

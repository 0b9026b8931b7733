package feature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/feature"
)

func sample() *event.Event {
	return &event.Event{
		ID:            "e1",
		UserID:        "alice",
		Type:          event.TypeLifeEvent,
		Role:          event.RoleLearner,
		Action:        event.ActionCheat,
		Description:   "Copied answers during the FINAL exam",
		CounterpartID: "bob",
		Intensity:     1.5,
	}
}

func TestEval(t *testing.T) {
	cases := []struct {
		name string
		expr string
		want bool
	}{
		{"eq action", `action == "cheat"`, true},
		{"eq is case-insensitive", `role == "LEARNER"`, true},
		{"neq", `type != "appeal"`, true},
		{"contains lowercases both sides", `description contains "Final Exam"`, true},
		{"contains miss", `description contains "homework"`, false},
		{"matches", `description matches "final\\s+exam"`, true},
		{"numeric gt", `intensity > 1`, true},
		{"numeric lte", `intensity <= 1.2`, false},
		{"bool field", `has_counterpart == true`, true},
		{"and short-circuit", `action == "help" AND intensity > 1`, false},
		{"or", `action == "help" OR counterpart == "bob"`, true},
		{"not", `NOT action == "help"`, true},
		{"parens", `(action == "help" OR action == "cheat") AND NOT role == "guru"`, true},
		{"lowercase keywords", `action == "cheat" and not intensity < 1`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := feature.Compile(tc.expr)
			require.NoError(t, err)
			got, err := feature.Eval(n, sample())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		``,
		`payload.amount > 3`,
		`action ==`,
		`action === "x"`,
		`description > 3`,
		`intensity contains "x"`,
		`description matches "(["`,
		`(action == "cheat"`,
		`action == "cheat" extra`,
		`"cheat" == action`,
		`action == 'unterminated`,
	} {
		_, err := feature.Compile(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestSetApply(t *testing.T) {
	set, err := feature.NewSet([]feature.Rule{
		{Name: "exam", When: `description contains "exam"`, Scale: 1.5},
		{Name: "peer", When: `has_counterpart == true`, Scale: 2},
		{Name: "guru", When: `role == "guru"`, Scale: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	m, err := set.Apply(sample())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m.Scale, 1e-9)
	assert.Equal(t, []string{"exam", "peer"}, m.Names)
}

func TestNewSet_AggregatesErrors(t *testing.T) {
	_, err := feature.NewSet([]feature.Rule{
		{Name: "bad-scale", When: `action == "x"`, Scale: 0},
		{Name: "bad-expr", When: `nope == 1`, Scale: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-scale")
	assert.Contains(t, err.Error(), "bad-expr")
}

func TestNilSetIsNeutral(t *testing.T) {
	var s *feature.Set
	m, err := s.Apply(sample())
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Scale)
	assert.Empty(t, m.Names)
}

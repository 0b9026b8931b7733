package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
)

func configErr(t *testing.T, err error) *config.ConfigError {
	t.Helper()
	var ce *config.ConfigError
	require.True(t, errors.As(err, &ce), "want *ConfigError, got %v", err)
	return ce
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`version: "1"`))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Store.MaxAttempts)
	assert.InDelta(t, 1.0, cfg.Scoring.Weights.Sum(), 1e-9)
	assert.Contains(t, cfg.Scoring.Actions, "cheat")
	assert.True(t, cfg.Scoring.Actions["violence"].Irreversible)
	assert.Equal(t, []int{5, 10, 20, 40}, cfg.Recommender.SeverityBuckets)
	assert.Equal(t, 3, cfg.Recommender.MaxIntensity())
	assert.Equal(t, 7*24*time.Hour, cfg.Recommender.PlanTTL.Duration)
	assert.Equal(t, "donation", cfg.Recommender.Pillars["Daan"].Unit)
}

func TestParse_OverridesMergeOverDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: "1"
scoring:
  weights: {dharma: 0.4, artha: 0.2, kama: 0.2, moksha: 0.2}
  actions:
    gossip: {dharma: -0.3, kama: -0.1}
  role_factors:
    elder: 1.3
recommender:
  plan_ttl: 48h
  pillars:
    Tap: {unit: fast, base_quantity: 2, effectiveness: 1.5}
`))
	require.NoError(t, err)
	assert.Contains(t, cfg.Scoring.Actions, "gossip")
	assert.Contains(t, cfg.Scoring.Actions, "help")
	assert.Equal(t, 1.3, cfg.Scoring.RoleFactors["elder"])
	assert.Equal(t, 48*time.Hour, cfg.Recommender.PlanTTL.Duration)
	assert.Equal(t, "fast", cfg.Recommender.Pillars["Tap"].Unit)
	assert.Equal(t, "session", cfg.Recommender.Pillars["Bhakti"].Unit)
}

func TestParse_WeightSum(t *testing.T) {
	cases := []struct {
		name    string
		weights string
		ok      bool
	}{
		{"exact", "{dharma: 0.25, artha: 0.25, kama: 0.25, moksha: 0.25}", true},
		{"within tolerance", "{dharma: 0.4000004, artha: 0.2, kama: 0.2, moksha: 0.2}", true},
		{"over", "{dharma: 0.5, artha: 0.2, kama: 0.2, moksha: 0.2}", false},
		{"under", "{dharma: 0.3, artha: 0.2, kama: 0.2, moksha: 0.2}", false},
		{"negative", "{dharma: 1.2, artha: -0.2, kama: 0, moksha: 0}", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte("version: \"1\"\nscoring:\n  weights: " + tc.weights + "\n"))
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			ce := configErr(t, err)
			assert.NotEmpty(t, ce.Problems)
		})
	}
}

func TestParse_AggregatesProblems(t *testing.T) {
	_, err := config.Parse([]byte(`
store:
  driver: sqlite
recommender:
  alpha: 1.5
  severity_buckets: [10, 5]
scoring:
  features:
    - {name: broken, when: "nope == 1", scale: 1}
tokens:
  decay:
    PaapTokens: 0.1
`))
	ce := configErr(t, err)
	msg := ce.Error()
	for _, want := range []string{
		"version is required",
		"store.dsn is required",
		"recommender.alpha",
		"severity_buckets",
		"broken",
		"derived token",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := config.Parse([]byte("version: \"1\"\nengine:\n  wrokers: 3\n"))
	configErr(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karma.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"2\"\nengine:\n  workers: 4\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.Version)
	assert.Equal(t, 4, cfg.Engine.Workers)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "karma.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Audit.Kafka.Enabled())
	assert.Contains(t, cfg.Scoring.Actions, "tutoring")
	assert.Contains(t, cfg.Scoring.Actions, "help", "built-in actions survive the merge")
	assert.Len(t, cfg.Scoring.Features, 2)
}

package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/karmachain/internal/feature"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

// WeightTolerance is the allowed deviation of the axis weight sum from 1.
const WeightTolerance = 1e-6

// ConfigError lists every problem found in a configuration. It is fatal at
// startup.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config validation errors:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

// Validate checks weights, numeric constants, tables and feature rules.
func Validate(cfg *Config) error {
	var errs problems

	if cfg.Version == "" {
		errs.addf("version is required")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs.addf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs.addf("log.format %q must be text or json", cfg.Log.Format)
	}

	validateEngine(cfg, &errs)
	validateScoring(&cfg.Scoring, &errs)
	validateTokens(&cfg.Tokens, &errs)
	if cfg.Classifier.PrarabdhaTopN < 1 {
		errs.addf("classifier.prarabdha_top_n must be >= 1")
	}
	validateRecommender(&cfg.Recommender, &errs)

	if len(errs) > 0 {
		return &ConfigError{Problems: errs}
	}
	return nil
}

func validateEngine(cfg *Config, errs *problems) {
	if cfg.Engine.Workers < 1 {
		errs.addf("engine.workers must be >= 1")
	}
	if cfg.Engine.QueueDepth < 1 {
		errs.addf("engine.queue_depth must be >= 1")
	}
	if cfg.Engine.EventTimeoutMs < 1 {
		errs.addf("engine.event_timeout_ms must be >= 1")
	}
	if cfg.Server.MaxBatch < 1 {
		errs.addf("server.max_batch must be >= 1")
	}

	s := cfg.Store
	switch s.Driver {
	case "memory":
	case "sqlite", "postgres":
		if s.DSN == "" {
			errs.addf("store.dsn is required for driver %s", s.Driver)
		}
	case "redis":
		if s.RedisAddr == "" {
			errs.addf("store.redis_addr is required for driver redis")
		}
	default:
		errs.addf("store.driver %q is not one of memory, sqlite, postgres, redis", s.Driver)
	}
	if s.TimeoutMs < 1 {
		errs.addf("store.timeout_ms must be >= 1")
	}
	if s.MaxAttempts < 1 {
		errs.addf("store.max_attempts must be >= 1")
	}
	if s.BackoffBaseMs < 1 || s.BackoffMaxMs < s.BackoffBaseMs {
		errs.addf("store.backoff_base_ms must be >= 1 and <= backoff_max_ms")
	}
	if cfg.Audit.Kafka.Enabled() && cfg.Audit.Kafka.Topic == "" {
		errs.addf("audit.kafka.topic is required when brokers are set")
	}
}

func validateScoring(sc *ScoringConf, errs *problems) {
	w := sc.Weights
	for name, v := range map[string]float64{"dharma": w.Dharma, "artha": w.Artha, "kama": w.Kama, "moksha": w.Moksha} {
		if v < 0 || v > 1 {
			errs.addf("scoring.weights.%s = %g must be within [0, 1]", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		errs.addf("scoring.weights must sum to 1 (got %.9f)", sum)
	}

	for _, role := range sortedKeys(sc.RoleFactors) {
		if f := sc.RoleFactors[role]; f <= 0 {
			errs.addf("scoring.role_factors.%s must be positive", role)
		}
	}
	for _, name := range sortedKeys(sc.Actions) {
		a := sc.Actions[name]
		if name != strings.ToLower(strings.TrimSpace(name)) {
			errs.addf("scoring.actions.%s: action names must be lower-case", name)
		}
		for axis, v := range map[string]float64{"dharma": a.Dharma, "artha": a.Artha, "kama": a.Kama, "moksha": a.Moksha} {
			if v < -1 || v > 1 {
				errs.addf("scoring.actions.%s.%s = %g must be within [-1, 1]", name, axis, v)
			}
		}
	}

	seen := make(map[string]bool)
	rules := make([]feature.Rule, 0, len(sc.Features))
	for i, f := range sc.Features {
		if f.Name == "" {
			errs.addf("scoring.features[%d]: name is required", i)
			continue
		}
		if seen[f.Name] {
			errs.addf("scoring.features: duplicate name %q", f.Name)
		}
		seen[f.Name] = true
		rules = append(rules, feature.Rule{Name: f.Name, When: f.When, Scale: f.Scale})
	}
	if _, err := feature.NewSet(rules); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs.addf("scoring.features: %s", line)
		}
	}
}

func validateTokens(t *TokenConf, errs *problems) {
	if t.MeritScale <= 0 {
		errs.addf("tokens.merit_scale must be positive")
	}
	if t.DebtScale <= 0 {
		errs.addf("tokens.debt_scale must be positive")
	}
	known := make(map[string]bool)
	for _, k := range ledger.Kinds() {
		known[string(k)] = true
	}
	for _, name := range sortedKeys(t.Decay) {
		rate := t.Decay[name]
		switch {
		case !known[name]:
			errs.addf("tokens.decay.%s: unknown token kind", name)
		case name == string(ledger.PaapTokens) || name == string(ledger.SanchitaKarma) || name == string(ledger.PrarabdhaKarma):
			errs.addf("tokens.decay.%s: derived token cannot decay", name)
		case rate < 0 || rate >= 1:
			errs.addf("tokens.decay.%s = %g must be within [0, 1)", name, rate)
		}
	}
}

func validateRecommender(r *RecommenderConf, errs *problems) {
	if r.Alpha <= 0 || r.Alpha > 1 {
		errs.addf("recommender.alpha = %g must be within (0, 1]", r.Alpha)
	}
	if r.Gamma <= 0 || r.Gamma > 1 {
		errs.addf("recommender.gamma = %g must be within (0, 1]", r.Gamma)
	}
	if r.ImpositionCost < 0 {
		errs.addf("recommender.imposition_cost must not be negative")
	}
	for i, b := range r.SeverityBuckets {
		if b <= 0 || (i > 0 && b <= r.SeverityBuckets[i-1]) {
			errs.addf("recommender.severity_buckets must be positive and strictly increasing")
			break
		}
	}
	seen := make(map[int]bool)
	for _, in := range r.Intensities {
		if in < 1 || seen[in] {
			errs.addf("recommender.intensities must be unique positive integers")
			break
		}
		seen[in] = true
	}
	if r.RecommendThreshold < 1 {
		errs.addf("recommender.recommend_threshold must be >= 1")
	}
	if r.PlanTTL.Duration <= 0 {
		errs.addf("recommender.plan_ttl must be positive")
	}
	for _, name := range sortedKeys(r.Pillars) {
		if _, ok := karma.ParsePillar(name); !ok {
			errs.addf("recommender.pillars.%s: unknown pillar", name)
			continue
		}
		p := r.Pillars[name]
		if p.Unit == "" || p.BaseQuantity <= 0 || p.Effectiveness <= 0 {
			errs.addf("recommender.pillars.%s: unit, base_quantity and effectiveness are required", name)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

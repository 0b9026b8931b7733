package config

import (
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/event"
)

// Default returns a fully populated configuration suitable for tests and
// for running without a file.
func Default() *Config {
	cfg := &Config{Version: "1"}
	applyDefaults(cfg)
	return cfg
}

func defaultActions() map[string]ActionDef {
	return map[string]ActionDef{
		string(event.ActionHelp):              {Dharma: 0.6, Artha: 0.1, Kama: 0.3, Moksha: 0.4},
		string(event.ActionCompletingLessons): {Dharma: 0.5, Artha: 0.2, Kama: 0.1, Moksha: 0.4},
		string(event.ActionHelpingPeers):      {Dharma: 0.6, Artha: 0.1, Kama: 0.3, Moksha: 0.4},
		string(event.ActionSolvingDoubts):     {Dharma: 0.5, Artha: 0.2, Kama: 0.3, Moksha: 0.3},
		string(event.ActionSelflessService):   {Dharma: 0.8, Artha: 0.3, Kama: 0.2, Moksha: 0.9},
		string(event.ActionDonate):            {Dharma: 0.5, Artha: 0.6, Kama: 0.2, Moksha: 0.5},
		string(event.ActionMeditate):          {Dharma: 0.3, Artha: 0, Kama: 0.2, Moksha: 0.8},
		string(event.ActionCheat):             {Dharma: -0.7, Artha: -0.3, Kama: -0.2, Moksha: -0.6},
		string(event.ActionDisrespectGuru):    {Dharma: -0.6, Artha: 0, Kama: -0.2, Moksha: -0.6},
		string(event.ActionBreakPromise):      {Dharma: -0.4, Artha: -0.2, Kama: -0.2, Moksha: -0.2},
		string(event.ActionFalseSpeech):       {Dharma: -0.5, Artha: -0.1, Kama: -0.1, Moksha: -0.3},
		string(event.ActionTheft):             {Dharma: -0.6, Artha: -0.8, Kama: -0.3, Moksha: -0.4},
		string(event.ActionHarmOthers):        {Dharma: -0.8, Artha: -0.3, Kama: -0.8, Moksha: -0.7, Irreversible: true},
		string(event.ActionViolence):          {Dharma: -0.9, Artha: -0.6, Kama: -0.9, Moksha: -0.8, Irreversible: true},
	}
}

func defaultRoleFactors() map[string]float64 {
	return map[string]float64{
		string(event.RoleLearner):   0.8,
		string(event.RoleVolunteer): 0.9,
		string(event.RoleHuman):     1.0,
		string(event.RoleSeva):      1.1,
		string(event.RoleGuru):      1.2,
	}
}

func defaultDecay() map[string]float64 {
	return map[string]float64{
		"SevaPoints":   0.0005,
		"PunyaTokens":  0.0001,
		"DridhaKarma":  0.00005,
		"AdridhaKarma": 0.001,
	}
}

func defaultPillars() map[string]PillarDef {
	return map[string]PillarDef{
		"Daan":   {Unit: "donation", BaseQuantity: 10, Effectiveness: 1.1},
		"Bhakti": {Unit: "session", BaseQuantity: 1, Effectiveness: 1.25},
		"Tap":    {Unit: "day", BaseQuantity: 1, Effectiveness: 1.4},
	}
}

// applyDefaults fills zero values. Action and role tables from the file are
// merged over the built-in ones.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout.Duration == 0 {
		cfg.Server.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.Server.WriteTimeout.Duration == 0 {
		cfg.Server.WriteTimeout.Duration = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout.Duration = 15 * time.Second
	}
	if cfg.Server.MaxBatch == 0 {
		cfg.Server.MaxBatch = 500
	}

	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 16
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 1024
	}
	if cfg.Engine.EventTimeoutMs == 0 {
		cfg.Engine.EventTimeoutMs = 5000
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.TimeoutMs == 0 {
		cfg.Store.TimeoutMs = 2000
	}
	if cfg.Store.MaxAttempts == 0 {
		cfg.Store.MaxAttempts = 3
	}
	if cfg.Store.BackoffBaseMs == 0 {
		cfg.Store.BackoffBaseMs = 50
	}
	if cfg.Store.BackoffMaxMs == 0 {
		cfg.Store.BackoffMaxMs = 1000
	}
	if cfg.Audit.Kafka.Topic == "" {
		cfg.Audit.Kafka.Topic = "karma.audit"
	}
	if cfg.Audit.Kafka.ClientID == "" {
		cfg.Audit.Kafka.ClientID = "karmachain"
	}

	if cfg.Scoring.Weights == (Weights{}) {
		cfg.Scoring.Weights = Weights{Dharma: 0.4, Artha: 0.2, Kama: 0.2, Moksha: 0.2}
	}
	cfg.Scoring.Actions = mergeMap(defaultActions(), cfg.Scoring.Actions)
	cfg.Scoring.RoleFactors = mergeMap(defaultRoleFactors(), cfg.Scoring.RoleFactors)

	if cfg.Tokens.MeritScale == 0 {
		cfg.Tokens.MeritScale = 10
	}
	if cfg.Tokens.DebtScale == 0 {
		cfg.Tokens.DebtScale = 10
	}
	cfg.Tokens.Decay = mergeMap(defaultDecay(), cfg.Tokens.Decay)

	if cfg.Classifier.PrarabdhaTopN == 0 {
		cfg.Classifier.PrarabdhaTopN = 3
	}

	r := &cfg.Recommender
	if r.Alpha == 0 {
		r.Alpha = 0.15
	}
	if r.Gamma == 0 {
		r.Gamma = 0.9
	}
	if r.ImpositionCost == 0 {
		r.ImpositionCost = 0.05
	}
	if len(r.SeverityBuckets) == 0 {
		r.SeverityBuckets = []int{5, 10, 20, 40}
	}
	if len(r.Intensities) == 0 {
		r.Intensities = []int{1, 2, 3}
	}
	if r.RecommendThreshold == 0 {
		r.RecommendThreshold = 7
	}
	if r.PlanTTL.Duration == 0 {
		r.PlanTTL.Duration = 7 * 24 * time.Hour
	}
	r.Pillars = mergeMap(defaultPillars(), r.Pillars)
}

func mergeMap[V any](base, over map[string]V) map[string]V {
	for k, v := range over {
		base[k] = v
	}
	return base
}

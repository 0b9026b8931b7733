package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML structure. It is loaded once at startup and
// never mutated afterwards.
type Config struct {
	Version     string          `yaml:"version"`
	Log         LogConf         `yaml:"log"`
	Server      ServerConf      `yaml:"server"`
	Engine      EngineConf      `yaml:"engine"`
	Store       StoreConf       `yaml:"store"`
	Audit       AuditConf       `yaml:"audit"`
	Scoring     ScoringConf     `yaml:"scoring"`
	Tokens      TokenConf       `yaml:"tokens"`
	Classifier  ClassifierConf  `yaml:"classifier"`
	Recommender RecommenderConf `yaml:"recommender"`
}

type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type ServerConf struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxBatch        int      `yaml:"max_batch"`
}

// EngineConf holds tunable concurrency and persistence settings.
type EngineConf struct {
	Workers        int `yaml:"workers"`
	QueueDepth     int `yaml:"queue_depth"`
	EventTimeoutMs int `yaml:"event_timeout_ms"`
}

// StoreConf selects and tunes the document store.
type StoreConf struct {
	Driver        string `yaml:"driver"` // memory | sqlite | postgres | redis
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisDB       int    `yaml:"redis_db"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	MaxAttempts   int    `yaml:"max_attempts"`
	BackoffBaseMs int    `yaml:"backoff_base_ms"`
	BackoffMaxMs  int    `yaml:"backoff_max_ms"`
}

type AuditConf struct {
	Kafka KafkaConf `yaml:"kafka"`
}

// KafkaConf configures the optional audit mirror. Empty Brokers disables it.
type KafkaConf struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// Enabled reports whether the mirror should be started.
func (k KafkaConf) Enabled() bool { return len(k.Brokers) > 0 }

type Weights struct {
	Dharma float64 `yaml:"dharma"`
	Artha  float64 `yaml:"artha"`
	Kama   float64 `yaml:"kama"`
	Moksha float64 `yaml:"moksha"`
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 { return w.Dharma + w.Artha + w.Kama + w.Moksha }

// ActionDef is the base axis profile of one action.
type ActionDef struct {
	Dharma       float64 `yaml:"dharma"`
	Artha        float64 `yaml:"artha"`
	Kama         float64 `yaml:"kama"`
	Moksha       float64 `yaml:"moksha"`
	Irreversible bool    `yaml:"irreversible"`
}

type FeatureDef struct {
	Name  string  `yaml:"name"`
	When  string  `yaml:"when"`
	Scale float64 `yaml:"scale"`
}

type ScoringConf struct {
	Weights     Weights              `yaml:"weights"`
	RoleFactors map[string]float64   `yaml:"role_factors"`
	Actions     map[string]ActionDef `yaml:"actions"`
	Features    []FeatureDef         `yaml:"features"`
}

// TokenConf scales composites into token magnitudes and sets daily decay.
type TokenConf struct {
	MeritScale float64            `yaml:"merit_scale"`
	DebtScale  float64            `yaml:"debt_scale"`
	Decay      map[string]float64 `yaml:"decay"`
}

type ClassifierConf struct {
	PrarabdhaTopN int `yaml:"prarabdha_top_n"`
}

type PillarDef struct {
	Unit          string  `yaml:"unit"`
	BaseQuantity  float64 `yaml:"base_quantity"`
	Effectiveness float64 `yaml:"effectiveness"`
}

type RecommenderConf struct {
	Alpha              float64              `yaml:"alpha"`
	Gamma              float64              `yaml:"gamma"`
	Prior              float64              `yaml:"prior"`
	ImpositionCost     float64              `yaml:"imposition_cost"`
	SeverityBuckets    []int                `yaml:"severity_buckets"`
	Intensities        []int                `yaml:"intensities"`
	RecommendThreshold int                  `yaml:"recommend_threshold"`
	PlanTTL            Duration             `yaml:"plan_ttl"`
	Pillars            map[string]PillarDef `yaml:"pillars"`
}

// MaxIntensity returns the largest configured intensity level.
func (r RecommenderConf) MaxIntensity() int {
	m := 0
	for _, i := range r.Intensities {
		if i > m {
			m = i
		}
	}
	return m
}

// Duration is a time.Duration that unmarshals from strings like "72h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

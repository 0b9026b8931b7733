package karma

import (
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

// Flag marks a stage that degraded to its default instead of failing.
type Flag string

const (
	FlagUnclassifiedAction Flag = "unclassified_action"
	FlagFeatureError       Flag = "feature_error"
	FlagSelfCounterpart    Flag = "self_counterpart"
	FlagDebtMergeFailed    Flag = "debt_merge_failed"
	FlagDebtResolveFailed  Flag = "debt_resolve_failed"
	FlagNoDebtToResolve    Flag = "no_debt_to_resolve"
	FlagRecommendFailed    Flag = "recommend_failed"
	FlagActivePlanExists   Flag = "active_plan_exists"
	FlagPolicyUpdateFailed Flag = "policy_update_failed"
	// FlagReconciled marks a record rebuilt from the delta journal for an
	// event whose ledger write committed without an audit record.
	FlagReconciled         Flag = "reconciled"
)

// DebtAction describes what the classifier did to the debt graph.
type DebtAction string

const (
	DebtNone     DebtAction = "none"
	DebtCreated  DebtAction = "created"
	DebtMerged   DebtAction = "merged"
	DebtResolved DebtAction = "resolved"
)

// ClassifierOutcome is the classifier's verdict for one event.
type ClassifierOutcome struct {
	Prarabdha      []string          `json:"prarabdha"`
	Sanchita       []string          `json:"sanchita"`
	PrarabdhaTotal float64           `json:"prarabdha_total"`
	SanchitaTotal  float64           `json:"sanchita_total"`
	ActiveSeverity int               `json:"active_severity"`
	DebtAction     DebtAction        `json:"debt_action"`
	Debt           *DebtRelationship `json:"debt,omitempty"`
}

// Score is the evaluator output captured for audit.
type Score struct {
	// Role and Action are the resolved taxonomy variants, "unclassified"
	// when the raw value has no entry.
	Role      string             `json:"role,omitempty"`
	Action    string             `json:"action,omitempty"`
	Composite float64            `json:"composite"`
	Axes      map[string]float64 `json:"axes,omitempty"`
	Features  []string           `json:"features,omitempty"`
}

// AuditRecord is an immutable, append-only trace of one processed event or
// plan completion.
type AuditRecord struct {
	ID                string            `json:"id"`
	EventID           string            `json:"event_id"`
	UserID            string            `json:"user_id"`
	Delta             ledger.Delta      `json:"derived_token_deltas"`
	Score             Score             `json:"score"`
	Outcome           ClassifierOutcome `json:"classifier_outcome"`
	Flags             []Flag            `json:"flags,omitempty"`
	RecommendedPlanID string            `json:"recommended_plan_id,omitempty"`
	Loka              ledger.Loka       `json:"loka,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// HasFlag reports whether f was raised.
func (r *AuditRecord) HasFlag(f Flag) bool {
	for _, x := range r.Flags {
		if x == f {
			return true
		}
	}
	return false
}

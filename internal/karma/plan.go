package karma

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Pillar is an atonement practice.
type Pillar string

const (
	PillarDaan   Pillar = "Daan"   // charity
	PillarBhakti Pillar = "Bhakti" // devotion
	PillarTap    Pillar = "Tap"    // austerity
)

// Pillars lists the pillars in tiebreak order.
func Pillars() []Pillar { return []Pillar{PillarDaan, PillarBhakti, PillarTap} }

// ParsePillar accepts any casing; ok is false for unknown names.
func ParsePillar(s string) (Pillar, bool) {
	for _, p := range Pillars() {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, true
		}
	}
	return "", false
}

// PlanStatus is the lifecycle state of an atonement plan.
type PlanStatus string

const (
	PlanProposed  PlanStatus = "proposed"
	PlanAccepted  PlanStatus = "accepted"
	PlanCompleted PlanStatus = "completed"
	PlanExpired   PlanStatus = "expired"
)

// Active reports whether the plan is still awaiting completion.
func (s PlanStatus) Active() bool { return s == PlanProposed || s == PlanAccepted }

// AtonementPlan is a recommended corrective practice.
type AtonementPlan struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Pillar         Pillar     `json:"pillar"`
	Unit           string     `json:"unit"`
	Quantity       float64    `json:"quantity"`
	Intensity      int        `json:"intensity"`
	TargetSeverity int        `json:"target_severity"`
	StateKey       string     `json:"state_key"`
	Status         PlanStatus `json:"status"`
	OriginEventID  string     `json:"origin_event_id,omitempty"`
	Evidence       *Evidence  `json:"evidence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Expired reports whether an active plan is past its deadline at now.
func (p *AtonementPlan) Expired(now time.Time) bool {
	return p.Status.Active() && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Equal reports whether p and o hold the same state.
func (p AtonementPlan) Equal(o AtonementPlan) bool {
	if p.ID != o.ID || p.UserID != o.UserID || p.Pillar != o.Pillar || p.Unit != o.Unit ||
		p.Quantity != o.Quantity || p.Intensity != o.Intensity || p.TargetSeverity != o.TargetSeverity ||
		p.StateKey != o.StateKey || p.Status != o.Status || p.OriginEventID != o.OriginEventID ||
		!p.CreatedAt.Equal(o.CreatedAt) || !p.ExpiresAt.Equal(o.ExpiresAt) {
		return false
	}
	if (p.CompletedAt == nil) != (o.CompletedAt == nil) ||
		(p.CompletedAt != nil && !p.CompletedAt.Equal(*o.CompletedAt)) {
		return false
	}
	if (p.Evidence == nil) != (o.Evidence == nil) {
		return false
	}
	return p.Evidence == nil || *p.Evidence == *o.Evidence
}

// Evidence is the proof submitted with a plan completion.
type Evidence struct {
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	// Reference identifies the transaction behind a Daan completion.
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}

// CheckEvidence rejects proof that does not cover the plan: the quantity must
// reach the planned amount, a stated unit must be the plan's unit, and Daan
// needs a transaction reference.
func (p *AtonementPlan) CheckEvidence(ev Evidence) error {
	unit := strings.TrimSpace(ev.Unit)
	switch {
	case !(ev.Quantity > 0) || math.IsInf(ev.Quantity, 0):
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidEvidence)
	case ev.Quantity < p.Quantity:
		return fmt.Errorf("%w: %g %s done, plan requires %g", ErrInvalidEvidence, ev.Quantity, p.Unit, p.Quantity)
	case unit != "" && !strings.EqualFold(unit, p.Unit):
		return fmt.Errorf("%w: unit %q does not match plan unit %q", ErrInvalidEvidence, unit, p.Unit)
	case p.Pillar == PillarDaan && strings.TrimSpace(ev.Reference) == "":
		return fmt.Errorf("%w: %s completion needs a transaction reference", ErrInvalidEvidence, p.Pillar)
	}
	return nil
}

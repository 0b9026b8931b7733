// Package purushartha scores events on the four Purushartha axes and folds
// them into a weighted composite in [-1, 1].
package purushartha

import (
	"fmt"
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/feature"
)

// Axis is one of the four ethical dimensions.
type Axis int

const (
	Dharma Axis = iota
	Artha
	Kama
	Moksha
	numAxes
)

var axisNames = [numAxes]string{"dharma", "artha", "kama", "moksha"}

func (a Axis) String() string {
	if a < 0 || a >= numAxes {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return axisNames[a]
}

// Vector holds one value per axis.
type Vector [numAxes]float64

// Map returns the vector keyed by axis name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, numAxes)
	for i, x := range v {
		m[axisNames[i]] = x
	}
	return m
}

// Profile is the base axis vector of an action.
type Profile struct {
	Base         Vector
	Irreversible bool
}

// Score is the evaluation of one event.
type Score struct {
	Axes         Vector
	Composite    float64
	Features     []string
	FeatureScale float64
	Irreversible bool
	// Role and Action are the resolved taxonomy variants; unclassified
	// inputs resolve to the Unclassified variants.
	Role   event.Role
	Action event.Action
	// FeatureErr is set when feature rules failed and the scale fell back to 1.
	FeatureErr error
}

// Neutral is the score recorded for events that cannot be classified.
func Neutral() Score { return Score{FeatureScale: 1} }

// UnclassifiedActionError is returned for an action or role the evaluator
// has no entry for. It is recoverable: callers record a neutral score.
type UnclassifiedActionError struct {
	Action event.Action
	Role   event.Role
	// Resolved holds the variants the raw names resolved to.
	ResolvedAction event.Action
	ResolvedRole   event.Role
}

func (e *UnclassifiedActionError) Error() string {
	return fmt.Sprintf("unclassified action %q for role %q", e.Action, e.Role)
}

// FeatureMatcher applies feature rules to an event.
type FeatureMatcher interface {
	Apply(ev *event.Event) (feature.Match, error)
}

// Evaluator is immutable after construction and safe for concurrent use.
type Evaluator struct {
	weights  Vector
	actions  map[event.Action]Profile
	roles    map[event.Role]float64
	taxonomy *event.Taxonomy
	features FeatureMatcher
}

// New builds an Evaluator from validated scoring config.
func New(sc config.ScoringConf, features FeatureMatcher) *Evaluator {
	e := &Evaluator{
		weights:  Vector{sc.Weights.Dharma, sc.Weights.Artha, sc.Weights.Kama, sc.Weights.Moksha},
		actions:  make(map[event.Action]Profile, len(sc.Actions)),
		roles:    make(map[event.Role]float64, len(sc.RoleFactors)),
		features: features,
	}
	for name, a := range sc.Actions {
		e.actions[event.Action(name).Normalize()] = Profile{
			Base:         Vector{a.Dharma, a.Artha, a.Kama, a.Moksha},
			Irreversible: a.Irreversible,
		}
	}
	roles := make([]string, 0, len(sc.RoleFactors))
	for name, f := range sc.RoleFactors {
		e.roles[event.Role(strings.ToLower(strings.TrimSpace(name)))] = f
		roles = append(roles, name)
	}
	actions := make([]string, 0, len(sc.Actions))
	for name := range sc.Actions {
		actions = append(actions, name)
	}
	e.taxonomy = event.NewTaxonomy(roles, actions)
	return e
}

// FromConfig compiles the feature rules and builds an Evaluator.
func FromConfig(sc config.ScoringConf) (*Evaluator, error) {
	rules := make([]feature.Rule, 0, len(sc.Features))
	for _, f := range sc.Features {
		rules = append(rules, feature.Rule{Name: f.Name, When: f.When, Scale: f.Scale})
	}
	set, err := feature.NewSet(rules)
	if err != nil {
		return nil, err
	}
	return New(sc, set), nil
}

// Profile returns the configured profile for action.
func (e *Evaluator) Profile(action event.Action) (Profile, bool) {
	p, ok := e.actions[action.Normalize()]
	return p, ok
}

// Resolve maps the raw role and action of ev to taxonomy variants, counting
// the configured extensions as known.
func (e *Evaluator) Resolve(ev *event.Event) (event.Role, event.Action) {
	return e.taxonomy.Role(string(ev.Role)), e.taxonomy.Action(string(ev.Action))
}

// Evaluate scores ev. It fails only with *UnclassifiedActionError, whose
// neutral score still carries the resolved variants.
func (e *Evaluator) Evaluate(ev *event.Event) (Score, error) {
	role, action := e.Resolve(ev)
	prof, okA := e.actions[action]
	factor, okR := e.roles[role]
	if !okA || !okR {
		if !okA {
			action = event.ActionUnclassified
		}
		if !okR {
			role = event.RoleUnclassified
		}
		s := Neutral()
		s.Role, s.Action = role, action
		return s, &UnclassifiedActionError{Action: ev.Action, Role: ev.Role, ResolvedAction: action, ResolvedRole: role}
	}

	s := Score{FeatureScale: 1, Irreversible: prof.Irreversible, Role: role, Action: action}
	if e.features != nil {
		m, err := e.features.Apply(ev)
		if err != nil {
			s.FeatureErr = err
		} else {
			s.FeatureScale = m.Scale
			s.Features = m.Names
		}
	}

	mult := factor * s.FeatureScale * ev.EffectiveIntensity()
	for i := range s.Axes {
		s.Axes[i] = clamp(prof.Base[i]*mult, -1, 1)
		s.Composite += e.weights[i] * s.Axes[i]
	}
	s.Composite = clamp(s.Composite, -1, 1)
	return s, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

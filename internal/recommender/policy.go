// Package recommender holds the Q-learning policy that picks atonement plans
// and learns from their observed effect on a user's debt.
package recommender

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

// NoPillar marks a state with no completed atonement yet.
const NoPillar karma.Pillar = "none"

// State is a discretised (severity bucket, last completed pillar) pair.
type State struct {
	Bucket int
	Last   karma.Pillar
}

// Key is the stable text form stored on plans and in snapshots.
func (s State) Key() string { return fmt.Sprintf("b%d|%s", s.Bucket, s.Last) }

// ParseState is the inverse of Key.
func ParseState(key string) (State, error) {
	b, last, ok := strings.Cut(key, "|")
	if !ok || !strings.HasPrefix(b, "b") {
		return State{}, fmt.Errorf("malformed state key %q", key)
	}
	n, err := strconv.Atoi(b[1:])
	if err != nil {
		return State{}, fmt.Errorf("malformed state key %q: %w", key, err)
	}
	if last == string(NoPillar) {
		return State{Bucket: n, Last: NoPillar}, nil
	}
	p, ok := karma.ParsePillar(last)
	if !ok {
		return State{}, fmt.Errorf("unknown pillar in state key %q", key)
	}
	return State{Bucket: n, Last: p}, nil
}

// Action is a pillar at an intensity level.
type Action struct {
	Pillar    karma.Pillar
	Intensity int
}

// PillarSpec is the unit and scaling of one pillar.
type PillarSpec struct {
	Unit          string
	BaseQuantity  float64
	Effectiveness float64
}

// Params are the learning constants.
type Params struct {
	Alpha          float64
	Gamma          float64
	Prior          float64
	ImpositionCost float64
	Buckets        []int
	Intensities    []int
	PlanTTL        time.Duration
	Pillars        map[karma.Pillar]PillarSpec
}

// ParamsFromConfig converts validated recommender config.
func ParamsFromConfig(r config.RecommenderConf) Params {
	p := Params{
		Alpha:          r.Alpha,
		Gamma:          r.Gamma,
		Prior:          r.Prior,
		ImpositionCost: r.ImpositionCost,
		Buckets:        append([]int(nil), r.SeverityBuckets...),
		Intensities:    append([]int(nil), r.Intensities...),
		PlanTTL:        r.PlanTTL.Duration,
		Pillars:        make(map[karma.Pillar]PillarSpec, len(r.Pillars)),
	}
	sort.Ints(p.Intensities)
	for name, def := range r.Pillars {
		if pl, ok := karma.ParsePillar(name); ok {
			p.Pillars[pl] = PillarSpec{Unit: def.Unit, BaseQuantity: def.BaseQuantity, Effectiveness: def.Effectiveness}
		}
	}
	return p
}

// MaxIntensity is the highest intensity level.
func (p Params) MaxIntensity() int {
	if len(p.Intensities) == 0 {
		return 0
	}
	return p.Intensities[len(p.Intensities)-1]
}

// Policy is the shared Q-table. Reads take the read lock; updates and
// restores take the write lock.
type Policy struct {
	params  Params
	actions []Action

	mu sync.RWMutex
	q  map[State]map[Action]float64
}

// New returns an empty policy. Unseen entries read as the prior.
func New(params Params) *Policy {
	p := &Policy{params: params, q: make(map[State]map[Action]float64)}
	for _, in := range params.Intensities {
		for _, pl := range karma.Pillars() {
			if _, ok := params.Pillars[pl]; ok {
				p.actions = append(p.actions, Action{Pillar: pl, Intensity: in})
			}
		}
	}
	return p
}

// Params returns the learning constants.
func (p *Policy) Params() Params { return p.params }

// Actions lists the action space in tiebreak order.
func (p *Policy) Actions() []Action { return append([]Action(nil), p.actions...) }

// Bucket discretises a severity. Bucket i holds severities below boundary i;
// the last bucket holds everything at or above the highest boundary.
func (p *Policy) Bucket(severity int) int {
	return sort.Search(len(p.params.Buckets), func(i int) bool { return severity < p.params.Buckets[i] })
}

// StateFor builds the state of a user.
func (p *Policy) StateFor(severity int, last karma.Pillar) State {
	if last == "" {
		last = NoPillar
	}
	return State{Bucket: p.Bucket(severity), Last: last}
}

// MaxEntries bounds the table: buckets × pillar histories × actions.
func (p *Policy) MaxEntries() int {
	return (len(p.params.Buckets) + 1) * (len(karma.Pillars()) + 1) * len(p.actions)
}

// Len returns the number of learned entries.
func (p *Policy) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, row := range p.q {
		n += len(row)
	}
	return n
}

// Q returns the value of (s, a), or the prior if unseen.
func (p *Policy) Q(s State, a Action) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value(s, a)
}

func (p *Policy) value(s State, a Action) float64 {
	if v, ok := p.q[s][a]; ok {
		return v
	}
	return p.params.Prior
}

// best returns the argmax action. Ties keep the earlier action, i.e. the
// lowest intensity, then pillar order Daan, Bhakti, Tap.
func (p *Policy) best(s State) (Action, float64) {
	var (
		bestA Action
		bestV = math.Inf(-1)
	)
	for _, a := range p.actions {
		if v := p.value(s, a); v > bestV {
			bestA, bestV = a, v
		}
	}
	return bestA, bestV
}

// Best returns the greedy action for s.
func (p *Policy) Best(s State) (Action, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.best(s)
}

// Recommend builds a proposed plan for a user at the given Prarabdha severity.
func (p *Policy) Recommend(userID string, severity int, last karma.Pillar, now time.Time) (karma.AtonementPlan, error) {
	if len(p.actions) == 0 {
		return karma.AtonementPlan{}, fmt.Errorf("recommender: empty action space")
	}
	s := p.StateFor(severity, last)
	a, _ := p.Best(s)
	ps := p.params.Pillars[a.Pillar]
	return karma.AtonementPlan{
		ID:             uuid.NewString(),
		UserID:         userID,
		Pillar:         a.Pillar,
		Unit:           ps.Unit,
		Quantity:       ps.BaseQuantity * float64(a.Intensity) * float64(1+s.Bucket),
		Intensity:      a.Intensity,
		TargetSeverity: severity,
		StateKey:       s.Key(),
		Status:         karma.PlanProposed,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.params.PlanTTL),
	}, nil
}

// Reward scores a completed plan from the Prarabdha severity before and after.
func (p *Policy) Reward(before, after, intensity int) float64 {
	return float64(before-after)/math.Max(float64(before), 1) - p.params.ImpositionCost*float64(intensity)
}

// Observe performs exactly one Q-update for a completed plan and returns the
// reward used. The next state is (bucket(after), plan pillar).
func (p *Policy) Observe(plan karma.AtonementPlan, before, after int) (float64, error) {
	s, err := ParseState(plan.StateKey)
	if err != nil {
		return 0, err
	}
	if s.Bucket < 0 || s.Bucket > len(p.params.Buckets) {
		return 0, fmt.Errorf("state bucket %d out of range", s.Bucket)
	}
	a := Action{Pillar: plan.Pillar, Intensity: plan.Intensity}
	if !p.known(a) {
		return 0, fmt.Errorf("unknown action %s@%d", a.Pillar, a.Intensity)
	}
	r := p.Reward(before, after, plan.Intensity)
	next := p.StateFor(after, plan.Pillar)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, maxNext := p.best(next)
	cur := p.value(s, a)
	row := p.q[s]
	if row == nil {
		row = make(map[Action]float64)
		p.q[s] = row
	}
	row[a] = cur + p.params.Alpha*(r+p.params.Gamma*maxNext-cur)
	return r, nil
}

func (p *Policy) known(a Action) bool {
	for _, x := range p.actions {
		if x == a {
			return true
		}
	}
	return false
}

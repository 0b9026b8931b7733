// Package feature compiles the description-derived feature rules from config
// into a Set that scales an event's Purushartha score.
package feature

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/karmachain/internal/event"
)

// Rule is one named feature: when the expression holds, Scale multiplies the
// event's per-axis values.
type Rule struct {
	Name  string
	When  string
	Scale float64
}

type compiled struct {
	name  string
	scale float64
	node  Node
}

// Set is an ordered list of compiled rules. The zero value matches nothing.
type Set struct {
	rules []compiled
}

// Match is the outcome of applying a Set to one event.
type Match struct {
	Scale float64
	Names []string
}

// NewSet compiles rules. All compile errors are reported together.
func NewSet(rules []Rule) (*Set, error) {
	s := &Set{}
	var errs []error
	for _, r := range rules {
		if r.Scale <= 0 {
			errs = append(errs, fmt.Errorf("feature %q: scale must be positive", r.Name))
			continue
		}
		n, err := Compile(r.When)
		if err != nil {
			errs = append(errs, fmt.Errorf("feature %q: %w", r.Name, err))
			continue
		}
		s.rules = append(s.rules, compiled{name: r.Name, scale: r.Scale, node: n})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// Len returns the number of compiled rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Apply evaluates every rule against ev. Matched scales multiply. On error the
// returned Match is neutral (scale 1, no names).
func (s *Set) Apply(ev *event.Event) (Match, error) {
	m := Match{Scale: 1}
	if s == nil {
		return m, nil
	}
	for _, r := range s.rules {
		ok, err := Eval(r.node, ev)
		if err != nil {
			return Match{Scale: 1}, fmt.Errorf("feature %q: %w", r.name, err)
		}
		if ok {
			m.Scale *= r.scale
			m.Names = append(m.Names, r.name)
		}
	}
	return m, nil
}

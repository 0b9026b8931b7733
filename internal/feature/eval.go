package feature

import (
	"fmt"
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/karmachain/internal/event"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpMatches:
		return true
	}
	return false
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
)

var fields = map[string]fieldKind{
	"description":     kindString,
	"action":          kindString,
	"role":            kindString,
	"type":            kindString,
	"user_id":         kindString,
	"counterpart":     kindString,
	"evidence":        kindString,
	"intensity":       kindNumber,
	"has_counterpart": kindBool,
}

func resolve(field string, ev *event.Event) any {
	switch field {
	case "description":
		return strings.ToLower(ev.Description)
	case "action":
		return string(ev.Action)
	case "role":
		return string(ev.Role)
	case "type":
		return string(ev.Type)
	case "user_id":
		return ev.UserID
	case "counterpart":
		return ev.CounterpartID
	case "evidence":
		return ev.EvidenceRef
	case "intensity":
		return ev.EffectiveIntensity()
	case "has_counterpart":
		return ev.HasCounterpart()
	}
	return nil
}

// Eval reports whether n holds for ev.
func Eval(n Node, ev *event.Event) (bool, error) {
	switch x := n.(type) {
	case *Logical:
		l, err := Eval(x.Left, ev)
		if err != nil {
			return false, err
		}
		if x.Op == "AND" && !l {
			return false, nil
		}
		if x.Op == "OR" && l {
			return true, nil
		}
		return Eval(x.Right, ev)
	case *Not:
		v, err := Eval(x.X, ev)
		return !v && err == nil, err
	case *Compare:
		return x.eval(resolve(x.Field, ev))
	default:
		return false, fmt.Errorf("unknown node %T", n)
	}
}

func (c *Compare) eval(got any) (bool, error) {
	switch c.Op {
	case OpEq:
		return same(got, c.Value), nil
	case OpNeq:
		return !same(got, c.Value), nil
	case OpContains:
		return strings.Contains(strings.ToLower(got.(string)), strings.ToLower(c.Value.(string))), nil
	case OpMatches:
		return c.re.MatchString(got.(string)), nil
	}
	lf, ok := got.(float64)
	if !ok {
		return false, fmt.Errorf("%s: not numeric", c.Field)
	}
	rf := c.Value.(float64)
	switch c.Op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	case OpLte:
		return lf <= rf, nil
	}
	return false, fmt.Errorf("unknown operator %s", c.Op)
}

func same(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return math.Abs(af-bf) < 1e-9
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(as, bs)
		}
	}
	return a == b
}

package mapper

import (
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

// Atonement describes a completed atonement practice.
type Atonement struct {
	TargetSeverity int
	Intensity      int
	MaxIntensity   int
	Effectiveness  float64
}

// Budget is the severity the practice can clear.
func (a Atonement) Budget() float64 {
	if a.MaxIntensity <= 0 {
		return 0
	}
	return float64(a.TargetSeverity) * a.Effectiveness * float64(a.Intensity) / float64(a.MaxIntensity)
}

// Atone resolves unresolved Paap entries within the atonement budget,
// Prarabdha entries first and larger magnitudes first within a class. An entry
// is resolved only when its whole severity fits the remaining budget. Flexible
// karma (AdridhaKarma) shrinks by the resolved magnitude; DridhaKarma does not.
// The spent budget is credited as PunyaTokens at one tenth per severity point.
func Atone(l *ledger.Ledger, id string, at time.Time, a Atonement) ledger.Delta {
	d := ledger.NewDelta(id, l.UserID, at)
	open := l.Unresolved()
	sort.SliceStable(open, func(i, j int) bool {
		pi, pj := open[i].Class == ledger.ClassPrarabdha, open[j].Class == ledger.ClassPrarabdha
		return pi && !pj
	})

	budget := a.Budget()
	var spent, cleared float64
	for _, e := range open {
		sev := float64(e.Severity)
		if sev > budget-spent {
			continue
		}
		spent += sev
		cleared += e.Magnitude
		d.ResolvePaap = append(d.ResolvePaap, e.ID)
	}

	if adr := l.Balances[ledger.AdridhaKarma]; adr > 0 && cleared > 0 {
		d.Add(ledger.AdridhaKarma, -min(adr, cleared))
	}
	d.Add(ledger.PunyaTokens, spent/10)
	return d
}

package mapper

import (
	"math"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
)

// Decay returns the delta that brings l's balances from LastDecayAt to now.
// Balances shrink toward zero and never change sign. A ledger that has never
// been decayed only gets its decay clock started.
func Decay(l *ledger.Ledger, now time.Time, p Params) ledger.Delta {
	d := ledger.NewDelta("", l.UserID, now)
	if l.LastDecayAt.IsZero() {
		d.DecayedAt = now
		return d
	}
	if !now.After(l.LastDecayAt) {
		return d
	}
	days := now.Sub(l.LastDecayAt).Hours() / 24
	for _, kind := range ledger.Kinds() {
		rate := p.Decay[kind]
		bal := l.Balances[kind]
		if rate <= 0 || bal == 0 {
			continue
		}
		remaining := bal * math.Pow(1-rate, days)
		d.Add(kind, remaining-bal)
	}
	d.DecayedAt = now
	return d
}

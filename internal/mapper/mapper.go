// Package mapper turns scores into ledger deltas. Every function is pure:
// identical inputs always produce identical deltas.
package mapper

import (
	"math"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/purushartha"
)

// PaapIDPrefix prefixes the id of the Paap entry created for an event.
const PaapIDPrefix = "paap-"

// Params are the token scaling constants.
type Params struct {
	MeritScale float64
	DebtScale  float64
	Decay      map[ledger.TokenKind]float64 // daily rate per token kind
}

// ParamsFromConfig converts validated token config.
func ParamsFromConfig(t config.TokenConf) Params {
	p := Params{MeritScale: t.MeritScale, DebtScale: t.DebtScale, Decay: make(map[ledger.TokenKind]float64, len(t.Decay))}
	for k, v := range t.Decay {
		p.Decay[ledger.TokenKind(k)] = v
	}
	return p
}

// Severity converts a negative composite into a Paap severity in [1, 10].
func Severity(composite float64) int {
	s := int(math.Round(math.Abs(composite) * 10))
	return min(max(s, ledger.MinSeverity), ledger.MaxSeverity)
}

// Map converts one scored event into a delta keyed by the event id.
func Map(ev *event.Event, s purushartha.Score, p Params) ledger.Delta {
	d := ledger.NewDelta(ev.ID, ev.UserID, ev.Timestamp)
	switch {
	case s.Composite > 0:
		credit(&d, s, s.Composite*p.MeritScale)
	case s.Composite < 0:
		mag := -s.Composite * p.DebtScale
		d.NewPaap = []ledger.PaapEntry{{
			ID:        PaapIDPrefix + ev.ID,
			EventID:   ev.ID,
			Severity:  Severity(s.Composite),
			Magnitude: mag,
			Class:     ledger.ClassSanchita,
			CreatedAt: ev.Timestamp,
		}}
		if ev.Role == event.RoleHuman && s.Irreversible {
			d.Add(ledger.DridhaKarma, mag)
		} else {
			d.Add(ledger.AdridhaKarma, mag)
		}
	}
	return d
}

// credit splits magnitude over the merit tokens in proportion to the positive
// axis values: Dharma to DharmaPoints, Artha and Kama to SevaPoints, Moksha to
// PunyaTokens.
func credit(d *ledger.Delta, s purushartha.Score, magnitude float64) {
	pos := func(a purushartha.Axis) float64 { return math.Max(s.Axes[a], 0) }
	dh, se, pu := pos(purushartha.Dharma), pos(purushartha.Artha)+pos(purushartha.Kama), pos(purushartha.Moksha)
	total := dh + se + pu
	if total == 0 {
		d.Add(ledger.DharmaPoints, magnitude)
		return
	}
	d.Add(ledger.DharmaPoints, magnitude*dh/total)
	d.Add(ledger.SevaPoints, magnitude*se/total)
	d.Add(ledger.PunyaTokens, magnitude*pu/total)
}

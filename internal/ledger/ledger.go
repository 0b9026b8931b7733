package ledger

import (
	"sort"
	"time"
)

// TokenKind names a token tracked in a user's ledger.
type TokenKind string

const (
	DharmaPoints   TokenKind = "DharmaPoints"
	SevaPoints     TokenKind = "SevaPoints"
	PunyaTokens    TokenKind = "PunyaTokens"
	PaapTokens     TokenKind = "PaapTokens"
	DridhaKarma    TokenKind = "DridhaKarma"
	AdridhaKarma   TokenKind = "AdridhaKarma"
	SanchitaKarma  TokenKind = "SanchitaKarma"
	PrarabdhaKarma TokenKind = "PrarabdhaKarma"
)

// Kinds lists every token kind in display order.
func Kinds() []TokenKind {
	return []TokenKind{
		DharmaPoints, SevaPoints, PunyaTokens, PaapTokens,
		DridhaKarma, AdridhaKarma, SanchitaKarma, PrarabdhaKarma,
	}
}

// Class is the persistence class of a Paap entry.
type Class string

const (
	ClassSanchita  Class = "sanchita"  // accumulated, long-term pool
	ClassPrarabdha Class = "prarabdha" // currently active
)

const (
	MinSeverity = 1
	MaxSeverity = 10
)

// PaapEntry is one demerit entry. Severity is always within [MinSeverity, MaxSeverity].
type PaapEntry struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	Severity   int        `json:"severity"`
	Magnitude  float64    `json:"magnitude"`
	Class      Class      `json:"class"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Ledger is a user's token state. PaapTokens is derived from the entries and is
// never stored in Balances.
type Ledger struct {
	UserID      string                `json:"user_id"`
	Balances    map[TokenKind]float64 `json:"balances"`
	Paap        []PaapEntry           `json:"paap"`
	Version     int64                 `json:"version"`
	LastDecayAt time.Time             `json:"last_decay_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// New returns an empty ledger for userID.
func New(userID string) *Ledger {
	return &Ledger{UserID: userID, Balances: make(map[TokenKind]float64)}
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Balances = make(map[TokenKind]float64, len(l.Balances))
	for k, v := range l.Balances {
		c.Balances[k] = v
	}
	c.Paap = make([]PaapEntry, len(l.Paap))
	copy(c.Paap, l.Paap)
	return &c
}

// Balance returns the value held for kind.
func (l *Ledger) Balance(kind TokenKind) float64 {
	if kind == PaapTokens {
		var total float64
		for _, e := range l.Paap {
			if !e.Resolved {
				total += e.Magnitude
			}
		}
		return total
	}
	return l.Balances[kind]
}

// Snapshot returns every token balance, including the derived PaapTokens.
func (l *Ledger) Snapshot() map[TokenKind]float64 {
	out := make(map[TokenKind]float64, len(Kinds()))
	for _, k := range Kinds() {
		out[k] = l.Balance(k)
	}
	return out
}

// Unresolved returns unresolved entries ordered by magnitude (desc), then id.
func (l *Ledger) Unresolved() []PaapEntry {
	var out []PaapEntry
	for _, e := range l.Paap {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	SortByMagnitude(out)
	return out
}

// SortByMagnitude orders entries by magnitude descending with id as tiebreak.
func SortByMagnitude(entries []PaapEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Magnitude != entries[j].Magnitude {
			return entries[i].Magnitude > entries[j].Magnitude
		}
		return entries[i].ID < entries[j].ID
	})
}

// AggregateSeverity sums the severity of all unresolved entries.
func (l *Ledger) AggregateSeverity() int {
	total := 0
	for _, e := range l.Paap {
		if !e.Resolved {
			total += e.Severity
		}
	}
	return total
}

// ActiveSeverity sums the severity of unresolved Prarabdha entries.
func (l *Ledger) ActiveSeverity() int {
	total := 0
	for _, e := range l.Paap {
		if !e.Resolved && e.Class == ClassPrarabdha {
			total += e.Severity
		}
	}
	return total
}

// Merit is the weighted merit score (DharmaPoints, SevaPoints, PunyaTokens).
func (l *Ledger) Merit() float64 {
	return l.Balances[DharmaPoints]*1.0 + l.Balances[SevaPoints]*1.2 + l.Balances[PunyaTokens]*3.0
}

// NetKarma weighs merit against outstanding demerit and binding karma.
func (l *Ledger) NetKarma() float64 {
	return l.Merit() - l.Balance(PaapTokens) - 0.8*l.Balances[DridhaKarma] - 0.3*l.Balances[AdridhaKarma]
}

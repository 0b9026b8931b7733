package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSeverity = errors.New("paap severity out of range")
	ErrDerivedToken    = errors.New("PaapTokens is derived from entries and cannot be adjusted directly")
	ErrUserMismatch    = errors.New("delta user does not match ledger user")
)

// Delta is a set of changes to one user's ledger. Its ID doubles as the
// idempotency key for stores: a delta id is applied at most once.
type Delta struct {
	ID          string                `json:"id"`
	UserID      string                `json:"user_id"`
	Tokens      map[TokenKind]float64 `json:"tokens,omitempty"`
	NewPaap     []PaapEntry           `json:"new_paap,omitempty"`
	Reclassify  map[string]Class      `json:"reclassify,omitempty"`
	ResolvePaap []string              `json:"resolve_paap,omitempty"`
	DecayedAt   time.Time             `json:"decayed_at,omitempty"`
	At          time.Time             `json:"at"`
}

// NewDelta returns an empty delta.
func NewDelta(id, userID string, at time.Time) Delta {
	return Delta{ID: id, UserID: userID, At: at}
}

// Add accumulates v into the token kind.
func (d *Delta) Add(kind TokenKind, v float64) {
	if v == 0 {
		return
	}
	if d.Tokens == nil {
		d.Tokens = make(map[TokenKind]float64)
	}
	d.Tokens[kind] += v
}

// IsEmpty reports whether the delta changes nothing.
func (d Delta) IsEmpty() bool {
	return len(d.Tokens) == 0 && len(d.NewPaap) == 0 && len(d.Reclassify) == 0 &&
		len(d.ResolvePaap) == 0 && d.DecayedAt.IsZero()
}

// Merge folds o into d. The id and user of d are kept.
func (d *Delta) Merge(o Delta) {
	for k, v := range o.Tokens {
		d.Add(k, v)
	}
	d.NewPaap = append(d.NewPaap, o.NewPaap...)
	for id, c := range o.Reclassify {
		if d.Reclassify == nil {
			d.Reclassify = make(map[string]Class)
		}
		d.Reclassify[id] = c
	}
	d.ResolvePaap = append(d.ResolvePaap, o.ResolvePaap...)
	if o.DecayedAt.After(d.DecayedAt) {
		d.DecayedAt = o.DecayedAt
	}
}

// Apply returns a new ledger with d applied to l. l is not modified.
func Apply(l *Ledger, d Delta) (*Ledger, error) {
	if l.UserID != "" && d.UserID != "" && l.UserID != d.UserID {
		return nil, fmt.Errorf("%w: %s != %s", ErrUserMismatch, d.UserID, l.UserID)
	}
	if _, ok := d.Tokens[PaapTokens]; ok {
		return nil, ErrDerivedToken
	}
	for _, e := range d.NewPaap {
		if e.Severity < MinSeverity || e.Severity > MaxSeverity {
			return nil, fmt.Errorf("%w: entry %s severity %d", ErrInvalidSeverity, e.ID, e.Severity)
		}
	}

	out := l.Clone()
	if out.UserID == "" {
		out.UserID = d.UserID
	}
	for k, v := range d.Tokens {
		out.Balances[k] += v
	}

	existing := make(map[string]int, len(out.Paap))
	for i, e := range out.Paap {
		existing[e.ID] = i
	}
	for _, e := range d.NewPaap {
		if _, dup := existing[e.ID]; dup {
			continue
		}
		existing[e.ID] = len(out.Paap)
		out.Paap = append(out.Paap, e)
	}
	for id, c := range d.Reclassify {
		if i, ok := existing[id]; ok {
			out.Paap[i].Class = c
		}
	}
	for _, id := range d.ResolvePaap {
		i, ok := existing[id]
		if !ok || out.Paap[i].Resolved {
			continue
		}
		at := d.At
		out.Paap[i].Resolved = true
		out.Paap[i].ResolvedAt = &at
	}

	if !d.DecayedAt.IsZero() {
		out.LastDecayAt = d.DecayedAt
	}
	out.Version++
	out.UpdatedAt = d.At
	return out, nil
}

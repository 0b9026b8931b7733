package karma

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DebtResolution records how an edge was closed.
type DebtResolution string

const (
	ResolutionAtoned      DebtResolution = "atoned"
	ResolutionRepaid      DebtResolution = "repaid"
	ResolutionTransferred DebtResolution = "transferred"
)

// debtEpsilon absorbs float drift when a repayment pays off the remainder.
const debtEpsilon = 1e-9

// DebtRelationship is a directed karmic debt (Rnanubandhan) from debtor to
// creditor. There is at most one unresolved edge per ordered pair; resolved
// edges are kept for history.
type DebtRelationship struct {
	ID                string         `json:"id"`
	DebtorID          string         `json:"debtor_user_id"`
	CreditorID        string         `json:"creditor_user_id"`
	Magnitude         float64        `json:"magnitude"`
	Repaid            float64        `json:"repaid,omitempty"`
	OriginEventID     string         `json:"origin_event_id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Resolved          bool           `json:"resolved"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolutionEventID string         `json:"resolution_event_id,omitempty"`
	Resolution        DebtResolution `json:"resolution,omitempty"`
	TransferredTo     string         `json:"transferred_to,omitempty"`
}

// Close marks the edge resolved by eventID.
func (d *DebtRelationship) Close(how DebtResolution, eventID string, at time.Time) {
	d.Resolved = true
	d.ResolvedAt = &at
	d.ResolutionEventID = eventID
	d.Resolution = how
	d.UpdatedAt = at
}

// Repay returns d reduced by amount. Paying off the remainder closes the edge.
func (d DebtRelationship) Repay(amount float64, repaymentID string, at time.Time) (DebtRelationship, error) {
	switch {
	case d.Resolved:
		return d, fmt.Errorf("debt %s is closed: %w", d.ID, ErrConflict)
	case !(amount > 0) || math.IsInf(amount, 0):
		return d, fmt.Errorf("%w: repayment must be positive, got %g", ErrInvalidDebtOp, amount)
	case amount > d.Magnitude+debtEpsilon:
		return d, fmt.Errorf("%w: repayment %g exceeds debt %g", ErrInvalidDebtOp, amount, d.Magnitude)
	}
	d.Magnitude -= amount
	d.Repaid += amount
	d.UpdatedAt = at
	if d.Magnitude <= debtEpsilon {
		d.Magnitude = 0
		d.Close(ResolutionRepaid, repaymentID, at)
	}
	return d, nil
}

// TransferEdgeID is the id of the edge a transfer opens. It is derived from
// the transfer id so that replaying a transfer finds the same edge.
func TransferEdgeID(transferID string) string { return "xfer-" + transferID }

// Transfer closes d and returns the edge that carries its remaining
// magnitude from newDebtorID to the same creditor. Stores merge the successor
// into an open edge of that pair when there is one.
func (d DebtRelationship) Transfer(newDebtorID, transferID string, at time.Time) (closed, successor DebtRelationship, err error) {
	newDebtorID = strings.TrimSpace(newDebtorID)
	switch {
	case d.Resolved:
		return d, successor, fmt.Errorf("debt %s is closed: %w", d.ID, ErrConflict)
	case newDebtorID == "":
		return d, successor, fmt.Errorf("%w: new debtor is required", ErrInvalidDebtOp)
	case newDebtorID == d.DebtorID:
		return d, successor, fmt.Errorf("%w: %s already owes this debt", ErrInvalidDebtOp, newDebtorID)
	case newDebtorID == d.CreditorID:
		return d, successor, fmt.Errorf("%w: %s cannot owe itself", ErrInvalidDebtOp, newDebtorID)
	}
	successor = DebtRelationship{
		ID:            TransferEdgeID(transferID),
		DebtorID:      newDebtorID,
		CreditorID:    d.CreditorID,
		Magnitude:     d.Magnitude,
		OriginEventID: transferID,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	closed = d
	closed.TransferredTo = newDebtorID
	closed.Close(ResolutionTransferred, transferID, at)
	return closed, successor, nil
}

// DebtSummary aggregates a user's open debt network.
type DebtSummary struct {
	TotalDebt   float64  `json:"total_debt"`
	TotalCredit float64  `json:"total_credit"`
	NetPosition float64  `json:"net_position"`
	Creditors   []string `json:"creditors"`
	Debtors     []string `json:"debtors"`
}

// Summarize builds the network summary of userID from its unresolved edges.
func Summarize(userID string, debts []DebtRelationship) DebtSummary {
	s := DebtSummary{Creditors: []string{}, Debtors: []string{}}
	for _, d := range debts {
		if d.Resolved {
			continue
		}
		switch userID {
		case d.DebtorID:
			s.TotalDebt += d.Magnitude
			s.Creditors = append(s.Creditors, d.CreditorID)
		case d.CreditorID:
			s.TotalCredit += d.Magnitude
			s.Debtors = append(s.Debtors, d.DebtorID)
		}
	}
	s.NetPosition = s.TotalCredit - s.TotalDebt
	return s
}

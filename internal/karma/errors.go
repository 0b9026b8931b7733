package karma

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores and by the engine for unknown records.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyCompleted is returned when a plan completion is submitted twice.
	ErrAlreadyCompleted = errors.New("atonement plan already completed")
	// ErrPlanExpired is returned when completing a plan past its deadline.
	ErrPlanExpired = errors.New("atonement plan expired")
	// ErrConflict signals a state transition that no longer applies.
	ErrConflict = errors.New("state transition conflict")
	// ErrInvalidDebtOp rejects a repayment or transfer the edge cannot take.
	ErrInvalidDebtOp = errors.New("invalid debt operation")
	// ErrInvalidEvidence rejects completion proof that does not cover the plan.
	ErrInvalidEvidence = errors.New("invalid atonement evidence")
)

// PersistenceError reports a store failure that survived the retry budget.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("persistence: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("persistence: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

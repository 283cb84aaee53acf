package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — the referenced row does not exist.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrInvalidTransition — the row is not in a status that allows the
	// requested transition. Under correct locking this is a programming or
	// race error; callers log it as a bug and never retry it.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")

	// ErrAlreadyClaimed — the team prize already has a confirmed claim.
	ErrAlreadyClaimed = errors.New("ledger: prize already claimed")

	// ErrClaimInFlight — a non-failed claim already exists for this prize.
	ErrClaimInFlight = errors.New("ledger: a claim for this prize is already in flight")
)

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

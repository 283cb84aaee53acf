package settlement

import (
	"context"
	"errors"
	"fmt"
)

// ExternalStatus is the backend's view of a previously submitted action.
type ExternalStatus string

const (
	StatusPendingExternal ExternalStatus = "PENDING_EXTERNAL" // broadcast, not final yet
	StatusFinal           ExternalStatus = "FINAL"            // irreversible
	StatusNotFound        ExternalStatus = "NOT_FOUND"        // backend has no record of it
)

// Receipt acknowledges an accepted submission. ExternalRef is the opaque
// identifier (transaction hash or invoice request id) used to track the
// action to finality.
type Receipt struct {
	ExternalRef string `json:"external_ref"`
	Accepted    bool   `json:"accepted"`
}

// ContributionRequest is one prize-pool payment to submit.
type ContributionRequest struct {
	HackathonID        string
	ContributorAddress string
	Amount             string // decimal string, currency units
	IdempotencyKey     string
}

// ClaimRequest is one prize payout to submit.
type ClaimRequest struct {
	HackathonID    string
	TeamPrizeID    string
	WinnerAddress  string
	Amount         string
	IdempotencyKey string
}

// Backend is the uniform interface over heterogeneous settlement mechanisms
// (direct contract call, fee-proxy invoice network). Submit methods return a
// receipt or fail; they never retry on their own — retry policy lives in the
// Coordinator. QueryStatus and LookupByIdempotencyKey are idempotent and
// side-effect free, safe to call repeatedly.
type Backend interface {
	SubmitContribution(ctx context.Context, req ContributionRequest) (*Receipt, error)
	SubmitPrizeClaim(ctx context.Context, req ClaimRequest) (*Receipt, error)
	QueryStatus(ctx context.Context, externalRef string) (ExternalStatus, error)

	// LookupByIdempotencyKey checks for a submission that may already exist
	// under the given key, so a retry after a lost acknowledgement does not
	// double-submit. Returns ErrNoSubmission when the backend has none.
	LookupByIdempotencyKey(ctx context.Context, key string) (*Receipt, error)
}

// ErrNoSubmission — no submission exists for the queried idempotency key.
var ErrNoSubmission = errors.New("settlement: no submission for key")

// RejectedError is a permanent refusal by the backend (insufficient funds,
// wrong network, contract revert). It is terminal: the coordinator marks the
// action FAILED and surfaces the reason verbatim, never retrying.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("settlement rejected: %s", e.Reason)
}

// TimeoutError wraps a network/timeout failure while awaiting the backend's
// acknowledgement. The underlying submission may already have been broadcast,
// so the coordinator re-checks the backend before any retry.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("settlement: %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a permanent backend refusal.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

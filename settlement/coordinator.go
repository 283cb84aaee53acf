package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"devbout/ledger"
	"devbout/models"

	"github.com/google/uuid"
)

// ErrIrrevocable — the action was already handed to the settlement backend;
// an accepted external submission cannot be recalled.
var ErrIrrevocable = errors.New("settlement: action already submitted and cannot be recalled")

// Config bounds the coordinator's interactions with the backend. Backend
// calls are network-bound and unbounded in the worst case, so every submit
// is wrapped in SubmitTimeout rather than left open.
type Config struct {
	SubmitTimeout time.Duration // per-attempt bound on a submit call
	MaxRetries    int           // retries after the first attempt, transient errors only
	RetryBackoff  time.Duration // base backoff, doubled per retry
	ConfirmWait   time.Duration // optional synchronous confirmation wait; 0 = fully async
	ConfirmPoll   time.Duration // poll interval while waiting synchronously
}

func DefaultConfig() Config {
	return Config{
		SubmitTimeout: 30 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  500 * time.Millisecond,
		ConfirmWait:   0,
		ConfirmPoll:   2 * time.Second,
	}
}

// Coordinator orchestrates the create → submit → confirm → record lifecycle
// of one monetary action. It holds no persistent state of its own — a crash
// between SUBMITTED and CONFIRMED is recovered by the reconciliation
// sweeper, not lost.
type Coordinator struct {
	store   *ledger.Store
	backend Backend
	cfg     Config
}

// NewCoordinator wires the coordinator from explicit dependencies.
func NewCoordinator(store *ledger.Store, backend Backend, cfg Config) *Coordinator {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = DefaultConfig().ConfirmPoll
	}
	return &Coordinator{store: store, backend: backend, cfg: cfg}
}

// ActionStatus is the caller-facing view of a monetary action.
type ActionStatus struct {
	ID            string                  `json:"id"`
	Kind          models.ActionKind       `json:"kind"`
	Status        models.SettlementStatus `json:"status"`
	ExternalRef   string                  `json:"external_ref,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
}

// InitiateContribution runs one contribution through the lifecycle. An empty
// idempotency key gets a generated one; a key that already maps to a row past
// PENDING is answered from that row with no second submission, while a
// PENDING row is resumed. On success the returned contribution is at least
// SUBMITTED — callers never observe SUBMITTING.
func (c *Coordinator) InitiateContribution(ctx context.Context, hackathonID, contributorID, amount, idempotencyKey string) (*models.Contribution, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	if existing, err := c.store.FindContributionByKey(idempotencyKey); err == nil {
		if existing.Status != models.SettlementPending {
			return existing, nil
		}
		// PENDING on replay means an earlier run died between the backend
		// accepting the submission and the ledger recording it. Resume the
		// row instead of returning it stuck.
		return c.resumeContribution(ctx, existing)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	address, err := c.store.WalletAddress(contributorID)
	if err != nil {
		return nil, err
	}

	contribution, err := c.store.CreateContribution(ledger.ContributionInput{
		HackathonID:    hackathonID,
		ContributorID:  contributorID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return c.submitContribution(ctx, contribution, address, nil)
}

// resumeContribution picks up a PENDING row left behind by a crashed run:
// adopt whatever submission the backend already holds for the key, or submit
// again if it holds nothing.
func (c *Coordinator) resumeContribution(ctx context.Context, contribution *models.Contribution) (*models.Contribution, error) {
	address, err := c.store.WalletAddress(contribution.ContributorID)
	if err != nil {
		return nil, err
	}

	var receipt *Receipt
	if r, err := c.backend.LookupByIdempotencyKey(ctx, contribution.IdempotencyKey); err == nil {
		log.Printf("[SETTLEMENT] adopting existing submission %s for pending contribution %s", r.ExternalRef, contribution.ID)
		receipt = r
	} else if !errors.Is(err, ErrNoSubmission) {
		return contribution, err
	}

	return c.submitContribution(ctx, contribution, address, receipt)
}

// submitContribution drives a PENDING row through submit → SUBMITTED →
// optional synchronous confirmation. A non-nil receipt skips the submit: the
// backend already holds the action.
func (c *Coordinator) submitContribution(ctx context.Context, contribution *models.Contribution, address string, receipt *Receipt) (*models.Contribution, error) {
	if receipt == nil {
		var submitErr error
		receipt, submitErr = c.submitWithRetry(ctx, contribution.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
			return c.backend.SubmitContribution(ctx, ContributionRequest{
				HackathonID:        contribution.HackathonID,
				ContributorAddress: address,
				Amount:             contribution.Amount,
				IdempotencyKey:     contribution.IdempotencyKey,
			})
		})
		if submitErr != nil {
			failed, markErr := c.store.MarkContributionFailed(contribution.ID, failureReason(submitErr))
			if markErr != nil {
				log.Printf("[SETTLEMENT] failed to mark contribution %s FAILED: %v", contribution.ID, markErr)
				return contribution, submitErr
			}
			return failed, submitErr
		}
	}

	submitted, err := c.store.MarkContributionSubmitted(contribution.ID, receipt.ExternalRef)
	if err != nil {
		// The external submission went through; the row stays PENDING and a
		// replay with the same key resumes it and adopts the receipt. Never
		// lose the ref.
		log.Printf("[SETTLEMENT] submission %s accepted but ledger update failed: %v", receipt.ExternalRef, err)
		return contribution, err
	}

	if c.cfg.ConfirmWait > 0 {
		if confirmed, ok := c.waitForFinality(ctx, submitted.ID, receipt.ExternalRef, c.confirmContribution); ok {
			return confirmed.(*models.Contribution), nil
		}
	}
	return submitted, nil
}

// InitiatePrizeClaim runs one prize payout through the same lifecycle.
func (c *Coordinator) InitiatePrizeClaim(ctx context.Context, teamPrizeID, claimantID, idempotencyKey string) (*models.PrizeClaim, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	if existing, err := c.store.FindClaimByKey(idempotencyKey); err == nil {
		if existing.Status != models.SettlementPending {
			return existing, nil
		}
		return c.resumeClaim(ctx, existing)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	prize, err := c.store.GetTeamPrize(teamPrizeID)
	if err != nil {
		return nil, err
	}
	address, err := c.store.WalletAddress(claimantID)
	if err != nil {
		return nil, err
	}

	claim, err := c.store.CreatePrizeClaim(ledger.ClaimInput{
		TeamPrizeID:    teamPrizeID,
		ClaimantID:     claimantID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return c.submitClaim(ctx, claim, prize, address, nil)
}

// resumeClaim is resumeContribution for the prize-claim table.
func (c *Coordinator) resumeClaim(ctx context.Context, claim *models.PrizeClaim) (*models.PrizeClaim, error) {
	prize, err := c.store.GetTeamPrize(claim.TeamPrizeID)
	if err != nil {
		return nil, err
	}
	address, err := c.store.WalletAddress(claim.ClaimantID)
	if err != nil {
		return nil, err
	}

	var receipt *Receipt
	if r, err := c.backend.LookupByIdempotencyKey(ctx, claim.IdempotencyKey); err == nil {
		log.Printf("[SETTLEMENT] adopting existing submission %s for pending claim %s", r.ExternalRef, claim.ID)
		receipt = r
	} else if !errors.Is(err, ErrNoSubmission) {
		return claim, err
	}

	return c.submitClaim(ctx, claim, prize, address, receipt)
}

func (c *Coordinator) submitClaim(ctx context.Context, claim *models.PrizeClaim, prize *models.TeamPrize, address string, receipt *Receipt) (*models.PrizeClaim, error) {
	if receipt == nil {
		var submitErr error
		receipt, submitErr = c.submitWithRetry(ctx, claim.IdempotencyKey, func(ctx context.Context) (*Receipt, error) {
			return c.backend.SubmitPrizeClaim(ctx, ClaimRequest{
				HackathonID:    prize.HackathonID,
				TeamPrizeID:    claim.TeamPrizeID,
				WinnerAddress:  address,
				Amount:         prize.Amount,
				IdempotencyKey: claim.IdempotencyKey,
			})
		})
		if submitErr != nil {
			failed, markErr := c.store.MarkClaimFailed(claim.ID, failureReason(submitErr))
			if markErr != nil {
				log.Printf("[SETTLEMENT] failed to mark claim %s FAILED: %v", claim.ID, markErr)
				return claim, submitErr
			}
			return failed, submitErr
		}
	}

	submitted, err := c.store.MarkClaimSubmitted(claim.ID, receipt.ExternalRef)
	if err != nil {
		log.Printf("[SETTLEMENT] claim submission %s accepted but ledger update failed: %v", receipt.ExternalRef, err)
		return claim, err
	}

	if c.cfg.ConfirmWait > 0 {
		if confirmed, ok := c.waitForFinality(ctx, submitted.ID, receipt.ExternalRef, c.confirmClaim); ok {
			return confirmed.(*models.PrizeClaim), nil
		}
	}
	return submitted, nil
}

// GetStatus resolves an action id against either ledger table.
func (c *Coordinator) GetStatus(actionID string) (*ActionStatus, error) {
	if contribution, err := c.store.GetContribution(actionID); err == nil {
		return &ActionStatus{
			ID:            contribution.ID,
			Kind:          models.ActionContribution,
			Status:        contribution.Status,
			ExternalRef:   refOrEmpty(contribution.ExternalRef),
			FailureReason: contribution.FailureReason,
		}, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	claim, err := c.store.GetClaim(actionID)
	if err != nil {
		return nil, err
	}
	return &ActionStatus{
		ID:            claim.ID,
		Kind:          models.ActionPrizeClaim,
		Status:        claim.Status,
		ExternalRef:   refOrEmpty(claim.ExternalRef),
		FailureReason: claim.FailureReason,
	}, nil
}

// CancelContribution is only possible before submission. After the backend
// accepted the action the money movement cannot be recalled.
func (c *Coordinator) CancelContribution(actionID string) (*models.Contribution, error) {
	contribution, err := c.store.GetContribution(actionID)
	if err != nil {
		return nil, err
	}
	if contribution.Status != models.SettlementPending {
		return contribution, ErrIrrevocable
	}
	return c.store.MarkContributionFailed(actionID, "canceled by caller")
}

// submitWithRetry invokes submit once per attempt under the configured
// timeout. Permanent rejections are returned immediately. On a transient
// failure the backend may already hold the submission (the ack could have
// been lost in transit), so before every retry the idempotency key is looked
// up and an existing submission is adopted instead of resubmitted.
func (c *Coordinator) submitWithRetry(ctx context.Context, idempotencyKey string, submit func(context.Context) (*Receipt, error)) (*Receipt, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if receipt, err := c.backend.LookupByIdempotencyKey(ctx, idempotencyKey); err == nil {
				log.Printf("[SETTLEMENT] adopting existing submission %s for key %s", receipt.ExternalRef, idempotencyKey)
				return receipt, nil
			} else if !errors.Is(err, ErrNoSubmission) {
				log.Printf("[SETTLEMENT] duplicate check failed for key %s: %v", idempotencyKey, err)
			}

			backoff := c.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, &TimeoutError{Op: "submit", Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		receipt, err := submit(attemptCtx)
		cancel()

		if err == nil {
			return receipt, nil
		}
		if IsRejected(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("[SETTLEMENT] submit attempt %d/%d failed (key %s): %v",
			attempt+1, c.cfg.MaxRetries+1, idempotencyKey, err)
	}
	return nil, &TimeoutError{Op: "submit", Err: lastErr}
}

// waitForFinality polls the backend up to ConfirmWait. When the bound lapses
// the action simply stays SUBMITTED and the sweeper picks it up.
func (c *Coordinator) waitForFinality(ctx context.Context, actionID, externalRef string, confirm func(string) (interface{}, error)) (interface{}, bool) {
	deadline := time.Now().Add(c.cfg.ConfirmWait)
	for time.Now().Before(deadline) {
		status, err := c.backend.QueryStatus(ctx, externalRef)
		if err == nil && status == StatusFinal {
			confirmed, err := confirm(actionID)
			if err != nil {
				log.Printf("[SETTLEMENT] confirm of %s failed: %v", actionID, err)
				return nil, false
			}
			return confirmed, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(c.cfg.ConfirmPoll):
		}
	}
	return nil, false
}

func (c *Coordinator) confirmContribution(id string) (interface{}, error) {
	return c.store.MarkContributionConfirmed(id)
}

func (c *Coordinator) confirmClaim(id string) (interface{}, error) {
	return c.store.MarkClaimConfirmed(id)
}

func failureReason(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return "TimedOut"
	}
	return fmt.Sprintf("submission failed: %v", err)
}

func refOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

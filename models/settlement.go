package models

import (
	"time"
)

// SettlementStatus is the ledger-side lifecycle of a monetary action.
// PENDING → SUBMITTED → CONFIRMED is the happy path; RECONCILING is a
// transient sweeper claim on a SUBMITTED row; FAILED is terminal.
// CONFIRMED is terminal-success and never transitions away.
type SettlementStatus string

const (
	SettlementPending     SettlementStatus = "PENDING"
	SettlementSubmitted   SettlementStatus = "SUBMITTED"
	SettlementReconciling SettlementStatus = "RECONCILING"
	SettlementConfirmed   SettlementStatus = "CONFIRMED"
	SettlementFailed      SettlementStatus = "FAILED"
)

// ActionKind distinguishes the two monetary actions in the audit trail
type ActionKind string

const (
	ActionContribution ActionKind = "CONTRIBUTION"
	ActionPrizeClaim   ActionKind = "PRIZE_CLAIM"
)

// Contribution is one user's payment into a hackathon prize pool.
// Amount is a decimal string. ExternalRef is the settlement backend's
// identifier (tx hash or invoice request id), null until SUBMITTED.
// Immutable once CONFIRMED.
type Contribution struct {
	ID             string           `json:"id" gorm:"primaryKey"`
	HackathonID    string           `json:"hackathon_id" gorm:"not null;index"`
	ContributorID  string           `json:"contributor_id" gorm:"not null;index"`
	Amount         string           `json:"amount" gorm:"not null"`
	Status         SettlementStatus `json:"status" gorm:"default:'PENDING';index"`
	ExternalRef    *string          `json:"external_ref,omitempty"`
	IdempotencyKey string           `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	FailureReason  string           `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" gorm:"index"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// TeamPrize is money owed to a winning team, created when a hackathon
// completes with winners announced. HasClaimed=true implies a non-null
// ClaimTxRef and a CONFIRMED PrizeClaim.
type TeamPrize struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	HackathonID string    `json:"hackathon_id" gorm:"not null;index"`
	TeamID      string    `json:"team_id" gorm:"not null;index"`
	Amount      string    `json:"amount" gorm:"not null"`
	HasClaimed  bool      `json:"has_claimed" gorm:"default:false"`
	ClaimTxRef  *string   `json:"claim_tx_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`

	Team Team `json:"team,omitempty" gorm:"foreignKey:TeamID"`
}

// PrizeClaim follows the same settlement cycle as Contribution.
// At most one non-FAILED claim exists per TeamPrize.
type PrizeClaim struct {
	ID             string           `json:"id" gorm:"primaryKey"`
	TeamPrizeID    string           `json:"team_prize_id" gorm:"not null;index"`
	ClaimantID     string           `json:"claimant_id" gorm:"not null;index"`
	Amount         string           `json:"amount" gorm:"not null"`
	Status         SettlementStatus `json:"status" gorm:"default:'PENDING';index"`
	ExternalRef    *string          `json:"external_ref,omitempty"`
	IdempotencyKey string           `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	FailureReason  string           `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" gorm:"index"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// SettlementTransition is the append-only audit trail. Every status change
// writes one row in the same transaction; the sweeper uses the timestamps
// for its timeout calculations and operators use it to trace stuck money.
type SettlementTransition struct {
	ID          string           `json:"id" gorm:"primaryKey"`
	ActionKind  ActionKind       `json:"action_kind" gorm:"not null;index"`
	ActionID    string           `json:"action_id" gorm:"not null;index"`
	FromStatus  SettlementStatus `json:"from_status"`
	ToStatus    SettlementStatus `json:"to_status" gorm:"not null"`
	ExternalRef string           `json:"external_ref,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at" gorm:"autoCreateTime"`
}

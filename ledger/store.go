package ledger

import (
	"errors"
	"time"

	"devbout/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns all persisted settlement rows. Every mutating operation runs in
// a single DB transaction: the status change, any dependent aggregate update
// (hackathon prize pool) and the audit row are applied together or not at all.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// ParseAmount validates a decimal-string amount and returns it parsed.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a decimal number"}
	}
	if d.Sign() <= 0 {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return d, nil
}

// ContributionInput creates a contribution in PENDING.
type ContributionInput struct {
	HackathonID    string
	ContributorID  string
	Amount         string
	IdempotencyKey string
}

func (s *Store) CreateContribution(in ContributionInput) (*models.Contribution, error) {
	if _, err := ParseAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.IdempotencyKey == "" {
		return nil, &ValidationError{Field: "idempotency_key", Reason: "required"}
	}

	contribution := &models.Contribution{
		ID:             uuid.NewString(),
		HackathonID:    in.HackathonID,
		ContributorID:  in.ContributorID,
		Amount:         in.Amount,
		Status:         models.SettlementPending,
		IdempotencyKey: in.IdempotencyKey,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var hackathon models.Hackathon
		if err := tx.First(&hackathon, "id = ?", in.HackathonID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Create(contribution).Error; err != nil {
			return err
		}
		return s.appendTransition(tx, models.ActionContribution, contribution.ID,
			"", models.SettlementPending, "", "")
	})
	if err != nil {
		return nil, err
	}
	return contribution, nil
}

// FindContributionByKey is the idempotency lookup: a retried client request
// is answered from the existing row instead of creating a second submission.
func (s *Store) FindContributionByKey(key string) (*models.Contribution, error) {
	var c models.Contribution
	if err := s.DB.First(&c, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetContribution(id string) (*models.Contribution, error) {
	var c models.Contribution
	if err := s.DB.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// MarkContributionSubmitted transitions PENDING → SUBMITTED and records the
// backend's external reference.
func (s *Store) MarkContributionSubmitted(id, externalRef string) (*models.Contribution, error) {
	var c models.Contribution
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockContribution(tx, id, &c); err != nil {
			return err
		}
		if c.Status != models.SettlementPending {
			return ErrInvalidTransition
		}
		now := time.Now().UTC()
		c.Status = models.SettlementSubmitted
		c.ExternalRef = &externalRef
		c.SubmittedAt = &now
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		return s.appendTransition(tx, models.ActionContribution, c.ID,
			models.SettlementPending, models.SettlementSubmitted, externalRef, "")
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkContributionConfirmed transitions SUBMITTED/RECONCILING → CONFIRMED and
// atomically increments the owning hackathon's prize pool in the same
// transaction. The hackathon row is locked FOR UPDATE so concurrent
// confirmations on one hackathon serialize and no increment is lost.
// Calling it on an already CONFIRMED row is a no-op (the sweeper may race a
// synchronous confirmation), so the pool is only ever incremented once.
func (s *Store) MarkContributionConfirmed(id string) (*models.Contribution, error) {
	var c models.Contribution
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockContribution(tx, id, &c); err != nil {
			return err
		}
		if c.Status == models.SettlementConfirmed {
			return nil // terminal-success, nothing to do
		}
		if c.Status != models.SettlementSubmitted && c.Status != models.SettlementReconciling {
			return ErrInvalidTransition
		}
		from := c.Status

		amount, err := ParseAmount(c.Amount)
		if err != nil {
			return err
		}

		var hackathon models.Hackathon
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&hackathon, "id = ?", c.HackathonID).Error; err != nil {
			return err
		}
		pool, err := decimal.NewFromString(hackathon.PrizePool)
		if err != nil {
			pool = decimal.Zero
		}
		if err := tx.Model(&hackathon).
			Update("prize_pool", pool.Add(amount).String()).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		c.Status = models.SettlementConfirmed
		c.ConfirmedAt = &now
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		return s.appendTransition(tx, models.ActionContribution, c.ID,
			from, models.SettlementConfirmed, deref(c.ExternalRef), "")
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkContributionFailed is allowed from any non-terminal status. The
// external reference and reason are preserved for audit: financial actions
// are never silently lost.
func (s *Store) MarkContributionFailed(id, reason string) (*models.Contribution, error) {
	var c models.Contribution
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockContribution(tx, id, &c); err != nil {
			return err
		}
		switch c.Status {
		case models.SettlementPending, models.SettlementSubmitted, models.SettlementReconciling:
		default:
			return ErrInvalidTransition
		}
		from := c.Status
		c.Status = models.SettlementFailed
		c.FailureReason = reason
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		return s.appendTransition(tx, models.ActionContribution, c.ID,
			from, models.SettlementFailed, deref(c.ExternalRef), reason)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// BeginContributionReconcile claims a SUBMITTED row for the sweeper with a
// conditional update, so at most one sweeper instance acts on it. Returns
// false when the row is no longer SUBMITTED (already claimed or resolved).
func (s *Store) BeginContributionReconcile(id string) (bool, error) {
	res := s.DB.Model(&models.Contribution{}).
		Where("id = ? AND status = ?", id, models.SettlementSubmitted).
		Update("status", models.SettlementReconciling)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AbortContributionReconcile releases a claim after a transient query
// failure; the row goes back to SUBMITTED and is re-checked next pass.
func (s *Store) AbortContributionReconcile(id string) error {
	return s.DB.Model(&models.Contribution{}).
		Where("id = ? AND status = ?", id, models.SettlementReconciling).
		Update("status", models.SettlementSubmitted).Error
}

// StuckContributions returns SUBMITTED rows whose submission is older than
// the given cutoff — candidates for reconciliation.
func (s *Store) StuckContributions(olderThan time.Time, limit int) ([]models.Contribution, error) {
	var rows []models.Contribution
	q := s.DB.Where("status = ? AND submitted_at < ?", models.SettlementSubmitted, olderThan).
		Order("submitted_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Transitions returns the audit trail for one action, oldest first.
func (s *Store) Transitions(kind models.ActionKind, actionID string) ([]models.SettlementTransition, error) {
	var rows []models.SettlementTransition
	err := s.DB.Where("action_kind = ? AND action_id = ?", kind, actionID).
		Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) appendTransition(tx *gorm.DB, kind models.ActionKind, actionID string,
	from, to models.SettlementStatus, externalRef, reason string) error {
	return tx.Create(&models.SettlementTransition{
		ID:          uuid.NewString(),
		ActionKind:  kind,
		ActionID:    actionID,
		FromStatus:  from,
		ToStatus:    to,
		ExternalRef: externalRef,
		Reason:      reason,
	}).Error
}

func lockContribution(tx *gorm.DB, id string, dst *models.Contribution) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(dst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

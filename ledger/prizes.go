package ledger

import (
	"errors"
	"time"

	"devbout/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TeamPrizeInput is one winner's share when a hackathon completes.
type TeamPrizeInput struct {
	TeamID string
	Amount string
}

// CreateTeamPrizes inserts the prize rows for a completed hackathon in one
// transaction. Called exactly once, when winners are announced.
func (s *Store) CreateTeamPrizes(hackathonID string, winners []TeamPrizeInput) ([]models.TeamPrize, error) {
	prizes := make([]models.TeamPrize, 0, len(winners))
	for _, w := range winners {
		if _, err := ParseAmount(w.Amount); err != nil {
			return nil, err
		}
		prizes = append(prizes, models.TeamPrize{
			ID:          uuid.NewString(),
			HackathonID: hackathonID,
			TeamID:      w.TeamID,
			Amount:      w.Amount,
		})
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&prizes).Error
	})
	if err != nil {
		return nil, err
	}
	return prizes, nil
}

func (s *Store) GetTeamPrize(id string) (*models.TeamPrize, error) {
	var p models.TeamPrize
	if err := s.DB.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) TeamPrizesForHackathon(hackathonID string) ([]models.TeamPrize, error) {
	var prizes []models.TeamPrize
	if err := s.DB.Where("hackathon_id = ?", hackathonID).Find(&prizes).Error; err != nil {
		return nil, err
	}
	return prizes, nil
}

// ClaimInput creates a PrizeClaim in PENDING. The amount is taken from the
// prize row, not from the caller.
type ClaimInput struct {
	TeamPrizeID    string
	ClaimantID     string
	IdempotencyKey string
}

func (s *Store) CreatePrizeClaim(in ClaimInput) (*models.PrizeClaim, error) {
	if in.IdempotencyKey == "" {
		return nil, &ValidationError{Field: "idempotency_key", Reason: "required"}
	}

	claim := &models.PrizeClaim{
		ID:             uuid.NewString(),
		TeamPrizeID:    in.TeamPrizeID,
		ClaimantID:     in.ClaimantID,
		Status:         models.SettlementPending,
		IdempotencyKey: in.IdempotencyKey,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var prize models.TeamPrize
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&prize, "id = ?", in.TeamPrizeID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if prize.HasClaimed {
			return ErrAlreadyClaimed
		}

		// One non-failed claim per prize. The prize row is locked above, so
		// two concurrent claims cannot both pass this check.
		var inFlight int64
		if err := tx.Model(&models.PrizeClaim{}).
			Where("team_prize_id = ? AND status <> ?", in.TeamPrizeID, models.SettlementFailed).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return ErrClaimInFlight
		}

		claim.Amount = prize.Amount
		if err := tx.Create(claim).Error; err != nil {
			return err
		}
		return s.appendTransition(tx, models.ActionPrizeClaim, claim.ID,
			"", models.SettlementPending, "", "")
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *Store) FindClaimByKey(key string) (*models.PrizeClaim, error) {
	var c models.PrizeClaim
	if err := s.DB.First(&c, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetClaim(id string) (*models.PrizeClaim, error) {
	var c models.PrizeClaim
	if err := s.DB.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) MarkClaimSubmitted(id, externalRef string) (*models.PrizeClaim, error) {
	var c models.PrizeClaim
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockClaim(tx, id, &c); err != nil {
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
		return s.appendTransition(tx, models.ActionPrizeClaim, c.ID,
			models.SettlementPending, models.SettlementSubmitted, externalRef, "")
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkClaimConfirmed finalizes the claim and, in the same transaction, flags
// the team prize as claimed with the external reference. Idempotent on an
// already CONFIRMED claim.
func (s *Store) MarkClaimConfirmed(id string) (*models.PrizeClaim, error) {
	var c models.PrizeClaim
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockClaim(tx, id, &c); err != nil {
			return err
		}
		if c.Status == models.SettlementConfirmed {
			return nil
		}
		if c.Status != models.SettlementSubmitted && c.Status != models.SettlementReconciling {
			return ErrInvalidTransition
		}
		from := c.Status

		var prize models.TeamPrize
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&prize, "id = ?", c.TeamPrizeID).Error; err != nil {
			return err
		}
		if err := tx.Model(&prize).Updates(map[string]interface{}{
			"has_claimed":  true,
			"claim_tx_ref": c.ExternalRef,
		}).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		c.Status = models.SettlementConfirmed
		c.ConfirmedAt = &now
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		return s.appendTransition(tx, models.ActionPrizeClaim, c.ID,
			from, models.SettlementConfirmed, deref(c.ExternalRef), "")
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) MarkClaimFailed(id, reason string) (*models.PrizeClaim, error) {
	var c models.PrizeClaim
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockClaim(tx, id, &c); err != nil {
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
		return s.appendTransition(tx, models.ActionPrizeClaim, c.ID,
			from, models.SettlementFailed, deref(c.ExternalRef), reason)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) BeginClaimReconcile(id string) (bool, error) {
	res := s.DB.Model(&models.PrizeClaim{}).
		Where("id = ? AND status = ?", id, models.SettlementSubmitted).
		Update("status", models.SettlementReconciling)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) AbortClaimReconcile(id string) error {
	return s.DB.Model(&models.PrizeClaim{}).
		Where("id = ? AND status = ?", id, models.SettlementReconciling).
		Update("status", models.SettlementSubmitted).Error
}

func (s *Store) StuckClaims(olderThan time.Time, limit int) ([]models.PrizeClaim, error) {
	var rows []models.PrizeClaim
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

func lockClaim(tx *gorm.DB, id string, dst *models.PrizeClaim) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(dst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

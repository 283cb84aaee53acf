package services

import (
	"log"

	"devbout/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB *gorm.DB
}

func NewBadgeService(db *gorm.DB) *BadgeService {
	return &BadgeService{DB: db}
}

// SeedBadges upserts the static badge catalog at startup.
func (s *BadgeService) SeedBadges() error {
	badges := []models.Badge{
		{ID: uuid.NewString(), Code: "ORGANIZER", Name: "Organizer", Description: "Hosted a hackathon"},
		{ID: uuid.NewString(), Code: "FIRST_WIN", Name: "First Win", Description: "Won a hackathon"},
		{ID: uuid.NewString(), Code: "PATRON", Name: "Patron", Description: "Funded a hackathon prize pool"},
		{ID: uuid.NewString(), Code: "BUILDER", Name: "Builder", Description: "Submitted a project"},
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&badges).Error
}

// Award grants a badge once; duplicates are silently skipped.
func (s *BadgeService) Award(userID, code string) {
	var badge models.Badge
	if err := s.DB.First(&badge, "code = ?", code).Error; err != nil {
		log.Printf("⚠️ Unknown badge code %q: %v", code, err)
		return
	}

	var count int64
	s.DB.Model(&models.UserBadge{}).
		Where("user_id = ? AND badge_id = ?", userID, badge.ID).Count(&count)
	if count > 0 {
		return
	}

	if err := s.DB.Create(&models.UserBadge{
		ID:      uuid.NewString(),
		UserID:  userID,
		BadgeID: badge.ID,
	}).Error; err != nil {
		log.Printf("⚠️ Failed to award badge %s to user %s: %v", code, userID, err)
		return
	}
	log.Printf("🎖️ Awarded badge %s to user %s", code, userID)
}

// GetUserBadges lists a user's badges with their definitions.
func (s *BadgeService) GetUserBadges(userID string) ([]models.UserBadge, error) {
	var badges []models.UserBadge
	err := s.DB.Preload("Badge").Where("user_id = ?", userID).
		Order("earned_at DESC").Find(&badges).Error
	return badges, err
}

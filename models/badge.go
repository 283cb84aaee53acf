package models

import "time"

// Badge: static config (seeded at startup)
type Badge struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Code        string    `json:"code" gorm:"uniqueIndex;not null"` // e.g., "FIRST_WIN", "ORGANIZER"
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// UserBadge: awarded instance
type UserBadge struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	UserID   string    `json:"user_id" gorm:"index;not null"`
	BadgeID  string    `json:"badge_id" gorm:"index;not null"`
	EarnedAt time.Time `json:"earned_at" gorm:"autoCreateTime"`

	Badge Badge `json:"badge,omitempty" gorm:"foreignKey:BadgeID"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the platform profile. Authentication lives at the gateway; this
// service only consumes the identity headers it forwards.
type User struct {
	ID            string            `json:"id" gorm:"primaryKey"`
	Name          string            `json:"name" gorm:"not null"`
	Email         string            `json:"email" gorm:"uniqueIndex;not null"`
	Image         string            `json:"image,omitempty"`
	WalletAddress string            `json:"wallet_address,omitempty" gorm:"index"`
	Bio           string            `json:"bio,omitempty" gorm:"type:text"`
	Skills        map[string]string `json:"skills,omitempty" gorm:"serializer:json"`
	XPPoints      int64             `json:"xp_points" gorm:"default:0"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

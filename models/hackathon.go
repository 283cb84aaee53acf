package models

import (
	"time"
)

// FundingType describes where the prize money comes from
type FundingType string

const (
	FundingFullyFunded FundingType = "FULLY_FUNDED" // organizer supplies the whole pool
	FundingCrowdfunded FundingType = "CROWDFUNDED"  // pool built from contributions
	FundingHybrid      FundingType = "HYBRID"       // base prize + contributions
)

// HackathonStatus lifecycle: DRAFT → OPEN → ONGOING → JUDGING → COMPLETED
type HackathonStatus string

const (
	HackathonDraft     HackathonStatus = "DRAFT"
	HackathonOpen      HackathonStatus = "OPEN"
	HackathonOngoing   HackathonStatus = "ONGOING"
	HackathonJudging   HackathonStatus = "JUDGING"
	HackathonCompleted HackathonStatus = "COMPLETED"
)

// JudgingCriterion is one weighted scoring dimension
type JudgingCriterion struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Hackathon is the central event entity.
// PrizePool and BasePrize are decimal strings (currency-unit precise) and are
// only ever mutated by the ledger: PrizePool == BasePrize + sum of CONFIRMED
// contribution amounts.
type Hackathon struct {
	ID          string `json:"id" gorm:"primaryKey"`
	OrganizerID string `json:"organizer_id" gorm:"not null;index"`
	Name        string `json:"name" gorm:"not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex"`
	Description string `json:"description" gorm:"type:text"`

	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	MinTeamSize int       `json:"min_team_size" gorm:"default:1"`
	MaxTeamSize int       `json:"max_team_size" gorm:"not null"`

	PrizePool   string          `json:"prize_pool" gorm:"default:'0'"`
	BasePrize   string          `json:"base_prize" gorm:"default:'0'"`
	FundingType FundingType     `json:"funding_type" gorm:"not null"`
	Status      HackathonStatus `json:"status" gorm:"default:'DRAFT';index"`

	// On-chain anchor (optional; empty for invoice-network-only events)
	ContractAddress string `json:"contract_address,omitempty"`
	ChainID         int64  `json:"chain_id,omitempty"`

	JudgingCriteria []JudgingCriterion `json:"judging_criteria,omitempty" gorm:"serializer:json"`
	CoverImageURL   string             `json:"cover_image_url,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Organizer     User           `json:"organizer,omitempty" gorm:"foreignKey:OrganizerID"`
	Teams         []Team         `json:"teams,omitempty" gorm:"foreignKey:HackathonID"`
	Submissions   []Submission   `json:"submissions,omitempty" gorm:"foreignKey:HackathonID"`
	Contributions []Contribution `json:"contributions,omitempty" gorm:"foreignKey:HackathonID"`

	// Calculated fields (not stored in DB)
	TeamsCount       int64 `json:"teams_count,omitempty" gorm:"-"`
	SubmissionsCount int64 `json:"submissions_count,omitempty" gorm:"-"`
}

// MiniHackathon is the brief summary used for list views
type MiniHackathon struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Status      HackathonStatus `json:"status"`
	FundingType FundingType     `json:"funding_type"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	PrizePool   string          `json:"prize_pool"`
	TeamsCount  int64           `json:"teams_count"`
}

package models

import (
	"time"
)

// Submission is a team's project entry for a hackathon.
// Score is a decimal string set during JUDGING.
type Submission struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	HackathonID   string    `json:"hackathon_id" gorm:"not null;index"`
	TeamID        string    `json:"team_id" gorm:"not null;index"`
	ProjectName   string    `json:"project_name" gorm:"not null"`
	Description   string    `json:"description" gorm:"type:text"`
	SubmissionURL string    `json:"submission_url,omitempty"`
	GithubURL     string    `json:"github_url,omitempty"`
	Score         string    `json:"score,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at" gorm:"autoCreateTime"`

	Team Team `json:"team,omitempty" gorm:"foreignKey:TeamID"`
}

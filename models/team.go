package models

import (
	"time"
)

// TeamMemberRole within a team
type TeamMemberRole string

const (
	RoleLeader TeamMemberRole = "LEADER"
	RoleMember TeamMemberRole = "MEMBER"
)

// JoinRequestStatus lifecycle for team join requests
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "PENDING"
	JoinRequestAccepted JoinRequestStatus = "ACCEPTED"
	JoinRequestRejected JoinRequestStatus = "REJECTED"
)

type Team struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	HackathonID string    `json:"hackathon_id" gorm:"not null;index"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	XPPoints    int64     `json:"xp_points" gorm:"default:0"`
	IsWinner    bool      `json:"is_winner" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`

	// Relationships
	Members     []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
	Submissions []Submission `json:"submissions,omitempty" gorm:"foreignKey:TeamID"`

	// Calculated (not stored in DB)
	MembersCount int64 `json:"members_count,omitempty" gorm:"-"`
}

type TeamMember struct {
	ID       string         `json:"id" gorm:"primaryKey"`
	TeamID   string         `json:"team_id" gorm:"not null;index"`
	UserID   string         `json:"user_id" gorm:"not null;index"`
	Role     TeamMemberRole `json:"role" gorm:"not null"`
	JoinedAt time.Time      `json:"joined_at" gorm:"autoCreateTime"`

	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// TeamJoinRequest — a user asking a team leader to let them in
type TeamJoinRequest struct {
	ID        string            `json:"id" gorm:"primaryKey"`
	TeamID    string            `json:"team_id" gorm:"not null;index"`
	UserID    string            `json:"user_id" gorm:"not null;index"`
	Message   string            `json:"message,omitempty"`
	Status    JoinRequestStatus `json:"status" gorm:"default:'PENDING';index"`
	CreatedAt time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"autoUpdateTime"`

	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Team Team `json:"team,omitempty" gorm:"foreignKey:TeamID"`
}

package services

import (
	"errors"
	"log"

	"devbout/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SubmissionService struct {
	DB           *gorm.DB
	BadgeService *BadgeService
}

func NewSubmissionService(db *gorm.DB, badges *BadgeService) *SubmissionService {
	return &SubmissionService{DB: db, BadgeService: badges}
}

func (s *SubmissionService) CreateSubmission(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		TeamID        string `json:"team_id"`
		ProjectName   string `json:"project_name"`
		Description   string `json:"description"`
		SubmissionURL string `json:"submission_url"`
		GithubURL     string `json:"github_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.TeamID == "" || req.ProjectName == "" {
		return c.Status(400).JSON(fiber.Map{"error": "team_id and project_name are required"})
	}

	var member models.TeamMember
	if err := s.DB.First(&member, "team_id = ? AND user_id = ?", req.TeamID, userID).Error; err != nil {
		return c.Status(403).JSON(fiber.Map{"error": "only team members can submit"})
	}

	var team models.Team
	if err := s.DB.First(&team, "id = ?", req.TeamID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "team not found"})
	}
	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", team.HackathonID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch hackathon"})
	}
	if hackathon.Status != models.HackathonOngoing {
		return c.Status(409).JSON(fiber.Map{"error": "submissions are only accepted while the hackathon is ongoing"})
	}

	// One submission per team; resubmission replaces it.
	var submission models.Submission
	err := s.DB.First(&submission, "team_id = ?", req.TeamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		submission = models.Submission{
			ID:          uuid.NewString(),
			HackathonID: hackathon.ID,
			TeamID:      req.TeamID,
		}
	} else if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to check existing submission"})
	}

	submission.ProjectName = req.ProjectName
	submission.Description = req.Description
	submission.SubmissionURL = req.SubmissionURL
	submission.GithubURL = req.GithubURL

	if err := s.DB.Save(&submission).Error; err != nil {
		log.Printf("❌ Failed to save submission: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to save submission"})
	}

	s.BadgeService.Award(userID, "BUILDER")

	return c.Status(201).JSON(submission)
}

func (s *SubmissionService) GetSubmissionByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var submission models.Submission
	err := s.DB.Preload("Team.Members.User").First(&submission, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "submission not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch submission"})
	}
	return c.JSON(submission)
}

func (s *SubmissionService) GetSubmissionsForHackathon(c *fiber.Ctx) error {
	hackathonID := c.Params("id")

	var submissions []models.Submission
	if err := s.DB.Preload("Team").
		Where("hackathon_id = ?", hackathonID).
		Order("submitted_at ASC").Find(&submissions).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch submissions"})
	}
	return c.JSON(fiber.Map{"submissions": submissions})
}

// ScoreSubmission records per-criterion scores during judging. The stored
// score is the weight-normalized total.
func (s *SubmissionService) ScoreSubmission(c *fiber.Ctx) error {
	submissionID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Scores map[string]float64 `json:"scores"` // criterion name -> 0..10
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Scores) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "scores are required"})
	}

	var submission models.Submission
	if err := s.DB.First(&submission, "id = ?", submissionID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "submission not found"})
	}
	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", submission.HackathonID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch hackathon"})
	}
	if hackathon.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the organizer can score submissions"})
	}
	if hackathon.Status != models.HackathonJudging {
		return c.Status(409).JSON(fiber.Map{"error": "scoring is only allowed during judging"})
	}
	if len(hackathon.JudgingCriteria) == 0 {
		return c.Status(409).JSON(fiber.Map{"error": "hackathon has no judging criteria"})
	}

	weighted := decimal.Zero
	totalWeight := decimal.Zero
	for _, criterion := range hackathon.JudgingCriteria {
		value, ok := req.Scores[criterion.Name]
		if !ok {
			return c.Status(400).JSON(fiber.Map{"error": "missing score for criterion: " + criterion.Name})
		}
		if value < 0 || value > 10 {
			return c.Status(400).JSON(fiber.Map{"error": "scores must be between 0 and 10"})
		}
		weight := decimal.NewFromFloat(criterion.Weight)
		weighted = weighted.Add(decimal.NewFromFloat(value).Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}
	if totalWeight.Sign() <= 0 {
		// Pre-validation rows; never divide by a non-positive weight total.
		return c.Status(409).JSON(fiber.Map{"error": "hackathon judging criteria weights are invalid"})
	}
	score := weighted.Div(totalWeight).Round(2)

	submission.Score = score.String()
	if err := s.DB.Save(&submission).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to save score"})
	}

	log.Printf("✅ Scored submission %s: %s", submission.ID, submission.Score)
	return c.JSON(submission)
}

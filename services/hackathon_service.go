package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"devbout/ledger"
	"devbout/models"
	"devbout/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type HackathonService struct {
	DB           *gorm.DB
	Ledger       *ledger.Store
	BadgeService *BadgeService
}

func NewHackathonService(db *gorm.DB, store *ledger.Store, badges *BadgeService) *HackathonService {
	return &HackathonService{DB: db, Ledger: store, BadgeService: badges}
}

// Forward-only status transitions. COMPLETED goes through CompleteHackathon,
// never through UpdateHackathonStatus.
var allowedStatusTransitions = map[models.HackathonStatus][]models.HackathonStatus{
	models.HackathonDraft:   {models.HackathonOpen},
	models.HackathonOpen:    {models.HackathonOngoing},
	models.HackathonOngoing: {models.HackathonJudging},
	models.HackathonJudging: {},
}

func statusTransitionAllowed(from, to models.HackathonStatus) bool {
	for _, next := range allowedStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// validateJudgingCriteria returns a non-empty message when the criteria are
// unusable for scoring. Scoring divides by the weight total, so zero or
// negative weights must never reach the database.
func validateJudgingCriteria(criteria []models.JudgingCriterion) string {
	total := 0.0
	for _, cr := range criteria {
		if cr.Name == "" || cr.Weight <= 0 {
			return "each judging criterion needs a name and a positive weight"
		}
		total += cr.Weight
	}
	if total <= 0 {
		return "judging criteria weights must sum to a positive value"
	}
	return ""
}

func (s *HackathonService) CreateHackathon(c *fiber.Ctx) error {
	organizerID, _ := c.Locals("user_id").(string)
	if organizerID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "authentication required"})
	}

	// --- Parse form values ---
	name := c.FormValue("name")
	description := c.FormValue("description")
	startDateStr := c.FormValue("start_date")
	endDateStr := c.FormValue("end_date")
	minTeamStr := c.FormValue("min_team_size")
	maxTeamStr := c.FormValue("max_team_size")
	fundingTypeStr := c.FormValue("funding_type")
	basePrize := c.FormValue("base_prize")
	contractAddress := c.FormValue("contract_address")
	chainIDStr := c.FormValue("chain_id")
	criteriaStr := c.FormValue("judging_criteria") // JSON array

	// --- Validation ---
	if name == "" || startDateStr == "" || endDateStr == "" || maxTeamStr == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name, start_date, end_date, and max_team_size are required"})
	}

	startDate, err := time.Parse(time.RFC3339, startDateStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid start_date (use RFC3339)"})
	}
	endDate, err := time.Parse(time.RFC3339, endDateStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid end_date (use RFC3339)"})
	}
	if !endDate.After(startDate) {
		return c.Status(400).JSON(fiber.Map{"error": "end_date must be after start_date"})
	}

	maxTeamSize, err := strconv.Atoi(maxTeamStr)
	if err != nil || maxTeamSize < 1 {
		return c.Status(400).JSON(fiber.Map{"error": "max_team_size must be a positive integer"})
	}
	minTeamSize := 1
	if minTeamStr != "" {
		if n, err := strconv.Atoi(minTeamStr); err == nil && n >= 1 {
			minTeamSize = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "min_team_size must be a positive integer"})
		}
	}
	if minTeamSize > maxTeamSize {
		return c.Status(400).JSON(fiber.Map{"error": "min_team_size cannot exceed max_team_size"})
	}

	fundingType := models.FundingType(fundingTypeStr)
	switch fundingType {
	case models.FundingFullyFunded, models.FundingCrowdfunded, models.FundingHybrid:
	default:
		return c.Status(400).JSON(fiber.Map{"error": "funding_type must be FULLY_FUNDED, CROWDFUNDED, or HYBRID"})
	}

	if basePrize == "" {
		basePrize = "0"
	}
	baseAmount, err := decimal.NewFromString(basePrize)
	if err != nil || baseAmount.Sign() < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "base_prize must be a non-negative decimal"})
	}
	if fundingType == models.FundingCrowdfunded && baseAmount.Sign() != 0 {
		return c.Status(400).JSON(fiber.Map{"error": "crowdfunded hackathons cannot carry a base prize"})
	}
	if fundingType != models.FundingCrowdfunded && baseAmount.Sign() == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "base_prize is required for funded hackathons"})
	}

	var criteria []models.JudgingCriterion
	if criteriaStr != "" {
		if err := json.Unmarshal([]byte(criteriaStr), &criteria); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "judging_criteria must be a JSON array of {name, weight}"})
		}
		if msg := validateJudgingCriteria(criteria); msg != "" {
			return c.Status(400).JSON(fiber.Map{"error": msg})
		}
	}

	var chainID int64
	if chainIDStr != "" {
		if n, err := strconv.ParseInt(chainIDStr, 10, 64); err == nil && n > 0 {
			chainID = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "chain_id must be a positive integer"})
		}
	}

	hackathon := models.Hackathon{
		ID:              uuid.NewString(),
		OrganizerID:     organizerID,
		Name:            name,
		Slug:            s.uniqueSlug(name),
		Description:     description,
		StartDate:       startDate,
		EndDate:         endDate,
		MinTeamSize:     minTeamSize,
		MaxTeamSize:     maxTeamSize,
		BasePrize:       baseAmount.String(),
		PrizePool:       baseAmount.String(), // contributions are added on confirmation
		FundingType:     fundingType,
		Status:          models.HackathonDraft,
		ContractAddress: contractAddress,
		ChainID:         chainID,
		JudgingCriteria: criteria,
	}

	// --- Handle cover image → R2 ---
	if cover, err := c.FormFile("cover_image"); err == nil && cover.Size > 0 {
		ext := filepath.Ext(cover.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := "hackathons/covers/" + uuid.NewString() + ext
		url, err := utils.UploadFileToR2(cover, key)
		if err != nil {
			log.Printf("❌ Failed to upload cover image: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload cover image"})
		}
		hackathon.CoverImageURL = url
	}

	if err := s.DB.Create(&hackathon).Error; err != nil {
		log.Printf("❌ Failed to create hackathon: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create hackathon"})
	}

	s.BadgeService.Award(organizerID, "ORGANIZER")

	log.Printf("✅ Created hackathon %s (%s)", hackathon.Name, hackathon.ID)
	return c.Status(201).JSON(hackathon)
}

// uniqueSlug derives a URL slug from the name, suffixing on collision.
func (s *HackathonService) uniqueSlug(name string) string {
	base := slug.Make(name)
	candidate := base
	for i := 2; ; i++ {
		var count int64
		s.DB.Model(&models.Hackathon{}).Where("slug = ?", candidate).Count(&count)
		if count == 0 {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *HackathonService) GetAllHackathons(c *fiber.Ctx) error {
	query := s.DB.Model(&models.Hackathon{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	} else {
		// Public listing hides drafts
		query = query.Where("status <> ?", models.HackathonDraft)
	}
	if fundingType := c.Query("funding_type"); fundingType != "" {
		query = query.Where("funding_type = ?", fundingType)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}
	if organizer := c.Query("organizer_id"); organizer != "" {
		query = query.Where("organizer_id = ?", organizer)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	query.Count(&total)

	var hackathons []models.Hackathon
	if err := query.Order("start_date DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&hackathons).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch hackathons"})
	}

	minis := make([]models.MiniHackathon, 0, len(hackathons))
	for _, h := range hackathons {
		var teamsCount int64
		s.DB.Model(&models.Team{}).Where("hackathon_id = ?", h.ID).Count(&teamsCount)
		minis = append(minis, models.MiniHackathon{
			ID:          h.ID,
			Name:        h.Name,
			Slug:        h.Slug,
			Status:      h.Status,
			FundingType: h.FundingType,
			StartDate:   h.StartDate,
			EndDate:     h.EndDate,
			PrizePool:   h.PrizePool,
			TeamsCount:  teamsCount,
		})
	}

	return c.JSON(fiber.Map{
		"hackathons": minis,
		"total":      total,
		"page":       page,
		"limit":      limit,
	})
}

func (s *HackathonService) GetHackathonByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var hackathon models.Hackathon
	err := s.DB.Preload("Organizer").First(&hackathon, "id = ? OR slug = ?", id, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch hackathon"})
	}

	s.DB.Model(&models.Team{}).Where("hackathon_id = ?", hackathon.ID).Count(&hackathon.TeamsCount)
	s.DB.Model(&models.Submission{}).Where("hackathon_id = ?", hackathon.ID).Count(&hackathon.SubmissionsCount)

	return c.JSON(hackathon)
}

func (s *HackathonService) UpdateHackathon(c *fiber.Ctx) error {
	id := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", id).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the organizer can update a hackathon"})
	}
	if hackathon.Status != models.HackathonDraft && hackathon.Status != models.HackathonOpen {
		return c.Status(409).JSON(fiber.Map{"error": "hackathon can no longer be edited"})
	}

	var req struct {
		Name        *string                   `json:"name"`
		Description *string                   `json:"description"`
		StartDate   *time.Time                `json:"start_date"`
		EndDate     *time.Time                `json:"end_date"`
		MinTeamSize *int                      `json:"min_team_size"`
		MaxTeamSize *int                      `json:"max_team_size"`
		Criteria    []models.JudgingCriterion `json:"judging_criteria"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Name != nil && *req.Name != "" && *req.Name != hackathon.Name {
		hackathon.Name = *req.Name
		hackathon.Slug = s.uniqueSlug(*req.Name)
	}
	if req.Description != nil {
		hackathon.Description = *req.Description
	}
	if req.StartDate != nil {
		hackathon.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		hackathon.EndDate = *req.EndDate
	}
	if !hackathon.EndDate.After(hackathon.StartDate) {
		return c.Status(400).JSON(fiber.Map{"error": "end_date must be after start_date"})
	}
	if req.MinTeamSize != nil {
		hackathon.MinTeamSize = *req.MinTeamSize
	}
	if req.MaxTeamSize != nil {
		hackathon.MaxTeamSize = *req.MaxTeamSize
	}
	if hackathon.MinTeamSize < 1 || hackathon.MinTeamSize > hackathon.MaxTeamSize {
		return c.Status(400).JSON(fiber.Map{"error": "invalid team size bounds"})
	}
	if req.Criteria != nil {
		if msg := validateJudgingCriteria(req.Criteria); msg != "" {
			return c.Status(400).JSON(fiber.Map{"error": msg})
		}
		hackathon.JudgingCriteria = req.Criteria
	}

	if err := s.DB.Save(&hackathon).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to update hackathon"})
	}
	return c.JSON(hackathon)
}

func (s *HackathonService) UploadCoverImage(c *fiber.Ctx) error {
	id := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", id).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the organizer can update the cover image"})
	}

	cover, err := c.FormFile("cover_image")
	if err != nil || cover.Size == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "cover_image file is required"})
	}

	ext := filepath.Ext(cover.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	key := "hackathons/covers/" + uuid.NewString() + ext
	url, err := utils.UploadFileToR2(cover, key)
	if err != nil {
		log.Printf("❌ Failed to upload cover image: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to upload cover image"})
	}

	oldURL := hackathon.CoverImageURL
	hackathon.CoverImageURL = url
	if err := s.DB.Save(&hackathon).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to update hackathon"})
	}

	if oldURL != "" {
		if err := utils.DeleteFromR2(oldURL); err != nil {
			log.Printf("⚠️ Failed to delete old cover image %s: %v", oldURL, err)
		}
	}

	return c.JSON(fiber.Map{"cover_image_url": url})
}

func (s *HackathonService) DeleteHackathon(c *fiber.Ctx) error {
	id := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", id).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the organizer can delete a hackathon"})
	}
	if hackathon.Status != models.HackathonDraft {
		// Published hackathons may hold money; they are never deleted.
		return c.Status(409).JSON(fiber.Map{"error": "only draft hackathons can be deleted"})
	}

	if err := s.DB.Delete(&hackathon).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete hackathon"})
	}
	return c.JSON(fiber.Map{"message": "hackathon deleted"})
}

// UpdateHackathonStatus advances the lifecycle one step at a time.
func (s *HackathonService) UpdateHackathonStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Status models.HackathonStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", id).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the organizer can change hackathon status"})
	}

	if req.Status == models.HackathonCompleted {
		return c.Status(400).JSON(fiber.Map{"error": "use the complete endpoint to announce winners"})
	}
	if !statusTransitionAllowed(hackathon.Status, req.Status) {
		return c.Status(409).JSON(fiber.Map{
			"error": fmt.Sprintf("cannot transition from %s to %s", hackathon.Status, req.Status),
		})
	}

	hackathon.Status = req.Status
	if err := s.DB.Save(&hackathon).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to update status"})
	}

	log.Printf("✅ Hackathon %s moved to %s", hackathon.ID, req.Status)
	return c.JSON(hackathon)
}

// CompleteHackathon announces winners: marks teams, creates their prize rows,
// awards XP and badges, and moves the hackathon to COMPLETED. The prize split
// must not exceed the pool; claims are settled later, per team.
func (s *HackathonService) CompleteHackathon(c *fiber.Ctx) error {
	id := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Winners []struct {
			TeamID string `json:"team_id"`
			Amount string `json:"amount"`
		} `json:"winners"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Winners) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "at least one winner is required"})
	}

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", id).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.OrganizerID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the organizer can announce winners"})
	}
	if hackathon.Status != models.HackathonJudging {
		return c.Status(409).JSON(fiber.Map{"error": "winners can only be announced during judging"})
	}

	pool, err := decimal.NewFromString(hackathon.PrizePool)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "corrupt prize pool value"})
	}

	total := decimal.Zero
	winners := make([]ledger.TeamPrizeInput, 0, len(req.Winners))
	for _, w := range req.Winners {
		var team models.Team
		if err := s.DB.First(&team, "id = ? AND hackathon_id = ?", w.TeamID, hackathon.ID).Error; err != nil {
			return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("team %s is not part of this hackathon", w.TeamID)})
		}
		amount, err := ledger.ParseAmount(w.Amount)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("invalid amount for team %s", w.TeamID)})
		}
		total = total.Add(amount)
		winners = append(winners, ledger.TeamPrizeInput{TeamID: w.TeamID, Amount: w.Amount})
	}
	if total.GreaterThan(pool) {
		return c.Status(400).JSON(fiber.Map{"error": "prize split exceeds the prize pool"})
	}

	prizes, err := s.Ledger.CreateTeamPrizes(hackathon.ID, winners)
	if err != nil {
		log.Printf("❌ Failed to create team prizes for %s: %v", hackathon.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to record winners"})
	}

	for _, w := range winners {
		if err := s.DB.Model(&models.Team{}).Where("id = ?", w.TeamID).
			Updates(map[string]interface{}{
				"is_winner": true,
				"xp_points": gorm.Expr("xp_points + ?", 500),
			}).Error; err != nil {
			log.Printf("⚠️ Failed to mark team %s as winner: %v", w.TeamID, err)
		}

		var members []models.TeamMember
		if err := s.DB.Where("team_id = ?", w.TeamID).Find(&members).Error; err == nil {
			for _, m := range members {
				s.DB.Model(&models.User{}).Where("id = ?", m.UserID).
					Update("xp_points", gorm.Expr("xp_points + ?", 200))
				s.BadgeService.Award(m.UserID, "FIRST_WIN")
			}
		}
	}

	hackathon.Status = models.HackathonCompleted
	if err := s.DB.Save(&hackathon).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to complete hackathon"})
	}

	log.Printf("🏆 Hackathon %s completed with %d winner(s)", hackathon.ID, len(winners))
	return c.JSON(fiber.Map{
		"hackathon": hackathon,
		"prizes":    prizes,
	})
}

package services

import (
	"errors"
	"log"

	"devbout/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TeamService struct {
	DB *gorm.DB
}

func NewTeamService(db *gorm.DB) *TeamService {
	return &TeamService{DB: db}
}

// memberTeamID returns the team the user already belongs to within the
// hackathon, if any.
func (s *TeamService) memberTeamID(hackathonID, userID string) (string, error) {
	var member models.TeamMember
	err := s.DB.Joins("JOIN teams ON teams.id = team_members.team_id").
		Where("teams.hackathon_id = ? AND team_members.user_id = ?", hackathonID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return member.TeamID, nil
}

func (s *TeamService) CreateTeam(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		HackathonID string `json:"hackathon_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.HackathonID == "" || req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "hackathon_id and name are required"})
	}

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", req.HackathonID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.Status != models.HackathonOpen {
		return c.Status(409).JSON(fiber.Map{"error": "teams can only be formed while registration is open"})
	}

	existing, err := s.memberTeamID(req.HackathonID, userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to check team membership"})
	}
	if existing != "" {
		return c.Status(409).JSON(fiber.Map{"error": "you already belong to a team in this hackathon"})
	}

	team := models.Team{
		ID:          uuid.NewString(),
		HackathonID: req.HackathonID,
		Name:        req.Name,
		Description: req.Description,
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		return tx.Create(&models.TeamMember{
			ID:     uuid.NewString(),
			TeamID: team.ID,
			UserID: userID,
			Role:   models.RoleLeader,
		}).Error
	})
	if err != nil {
		log.Printf("❌ Failed to create team: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create team"})
	}

	return c.Status(201).JSON(team)
}

func (s *TeamService) GetTeamsForHackathon(c *fiber.Ctx) error {
	hackathonID := c.Params("id")

	var teams []models.Team
	if err := s.DB.Preload("Members.User").
		Where("hackathon_id = ?", hackathonID).Find(&teams).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch teams"})
	}
	for i := range teams {
		teams[i].MembersCount = int64(len(teams[i].Members))
	}
	return c.JSON(fiber.Map{"teams": teams})
}

func (s *TeamService) GetTeamByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var team models.Team
	err := s.DB.Preload("Members.User").Preload("Submissions").
		First(&team, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "team not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch team"})
	}
	team.MembersCount = int64(len(team.Members))
	return c.JSON(team)
}

func (s *TeamService) RequestToJoin(c *fiber.Ctx) error {
	teamID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Message string `json:"message"`
	}
	_ = c.BodyParser(&req)

	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "team not found"})
	}

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", team.HackathonID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch hackathon"})
	}
	if hackathon.Status != models.HackathonOpen {
		return c.Status(409).JSON(fiber.Map{"error": "registration is closed"})
	}

	existing, err := s.memberTeamID(team.HackathonID, userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to check team membership"})
	}
	if existing != "" {
		return c.Status(409).JSON(fiber.Map{"error": "you already belong to a team in this hackathon"})
	}

	var pending int64
	s.DB.Model(&models.TeamJoinRequest{}).
		Where("team_id = ? AND user_id = ? AND status = ?", teamID, userID, models.JoinRequestPending).
		Count(&pending)
	if pending > 0 {
		return c.Status(409).JSON(fiber.Map{"error": "join request already pending"})
	}

	joinRequest := models.TeamJoinRequest{
		ID:      uuid.NewString(),
		TeamID:  teamID,
		UserID:  userID,
		Message: req.Message,
		Status:  models.JoinRequestPending,
	}
	if err := s.DB.Create(&joinRequest).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to create join request"})
	}
	return c.Status(201).JSON(joinRequest)
}

// isLeader checks leadership without loading the whole member list.
func (s *TeamService) isLeader(teamID, userID string) bool {
	var count int64
	s.DB.Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ? AND role = ?", teamID, userID, models.RoleLeader).
		Count(&count)
	return count > 0
}

func (s *TeamService) GetJoinRequests(c *fiber.Ctx) error {
	teamID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	if !s.isLeader(teamID, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "only the team leader can view join requests"})
	}

	var requests []models.TeamJoinRequest
	if err := s.DB.Preload("User").
		Where("team_id = ? AND status = ?", teamID, models.JoinRequestPending).
		Find(&requests).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch join requests"})
	}
	return c.JSON(fiber.Map{"requests": requests})
}

func (s *TeamService) RespondToJoinRequest(c *fiber.Ctx) error {
	requestID := c.Params("request_id")
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Accept bool `json:"accept"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	var joinRequest models.TeamJoinRequest
	if err := s.DB.First(&joinRequest, "id = ?", requestID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "join request not found"})
	}
	if joinRequest.Status != models.JoinRequestPending {
		return c.Status(409).JSON(fiber.Map{"error": "join request already resolved"})
	}
	if !s.isLeader(joinRequest.TeamID, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "only the team leader can respond to join requests"})
	}

	if !req.Accept {
		joinRequest.Status = models.JoinRequestRejected
		if err := s.DB.Save(&joinRequest).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to update join request"})
		}
		return c.JSON(joinRequest)
	}

	var team models.Team
	if err := s.DB.First(&team, "id = ?", joinRequest.TeamID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch team"})
	}
	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", team.HackathonID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch hackathon"})
	}

	var memberCount int64
	s.DB.Model(&models.TeamMember{}).Where("team_id = ?", team.ID).Count(&memberCount)
	if memberCount >= int64(hackathon.MaxTeamSize) {
		return c.Status(409).JSON(fiber.Map{"error": "team is full"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		joinRequest.Status = models.JoinRequestAccepted
		if err := tx.Save(&joinRequest).Error; err != nil {
			return err
		}
		return tx.Create(&models.TeamMember{
			ID:     uuid.NewString(),
			TeamID: joinRequest.TeamID,
			UserID: joinRequest.UserID,
			Role:   models.RoleMember,
		}).Error
	})
	if err != nil {
		log.Printf("❌ Failed to accept join request %s: %v", requestID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to accept join request"})
	}
	return c.JSON(joinRequest)
}

func (s *TeamService) LeaveTeam(c *fiber.Ctx) error {
	teamID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	var member models.TeamMember
	err := s.DB.First(&member, "team_id = ? AND user_id = ?", teamID, userID).Error
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "you are not a member of this team"})
	}
	if member.Role == models.RoleLeader {
		var others int64
		s.DB.Model(&models.TeamMember{}).
			Where("team_id = ? AND user_id <> ?", teamID, userID).Count(&others)
		if others > 0 {
			return c.Status(409).JSON(fiber.Map{"error": "leader must transfer leadership or be the last member to leave"})
		}
	}

	if err := s.DB.Delete(&member).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to leave team"})
	}

	// Last member out dissolves the team
	var remaining int64
	s.DB.Model(&models.TeamMember{}).Where("team_id = ?", teamID).Count(&remaining)
	if remaining == 0 {
		s.DB.Delete(&models.Team{}, "id = ?", teamID)
	}

	return c.JSON(fiber.Map{"message": "left team"})
}

func (s *TeamService) KickMember(c *fiber.Ctx) error {
	teamID := c.Params("id")
	targetID := c.Params("user_id")
	userID, _ := c.Locals("user_id").(string)

	if !s.isLeader(teamID, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "only the team leader can remove members"})
	}
	if targetID == userID {
		return c.Status(400).JSON(fiber.Map{"error": "use the leave endpoint instead"})
	}

	res := s.DB.Where("team_id = ? AND user_id = ?", teamID, targetID).
		Delete(&models.TeamMember{})
	if res.Error != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to remove member"})
	}
	if res.RowsAffected == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "member not found"})
	}
	return c.JSON(fiber.Map{"message": "member removed"})
}

package services

import (
	"errors"
	"log"

	"devbout/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserService struct {
	DB           *gorm.DB
	BadgeService *BadgeService
}

func NewUserService(db *gorm.DB, badges *BadgeService) *UserService {
	return &UserService{DB: db, BadgeService: badges}
}

// UpsertUser mirrors the identity record pushed by the gateway. The gateway
// owns authentication; this service only keeps the profile fields it needs.
func (s *UserService) UpsertUser(c *fiber.Ctx) error {
	var req struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Image string `json:"image"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.ID == "" || req.Email == "" {
		return c.Status(400).JSON(fiber.Map{"error": "id and email are required"})
	}

	user := models.User{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Image: req.Image,
	}
	err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "image"}),
	}).Create(&user).Error
	if err != nil {
		log.Printf("❌ Failed to upsert user %s: %v", req.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to upsert user"})
	}

	return c.JSON(user)
}

func (s *UserService) GetProfile(c *fiber.Ctx) error {
	id := c.Params("id")

	var user models.User
	if err := s.DB.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch user"})
	}

	badges, err := s.BadgeService.GetUserBadges(id)
	if err != nil {
		log.Printf("⚠️ Failed to load badges for user %s: %v", id, err)
	}

	return c.JSON(fiber.Map{
		"user":   user,
		"badges": badges,
	})
}

// UpdateProfile lets a user edit their own profile, including the wallet
// address used for settlement.
func (s *UserService) UpdateProfile(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Bio           *string           `json:"bio"`
		Skills        map[string]string `json:"skills"`
		WalletAddress *string           `json:"wallet_address"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "user not found"})
	}

	if req.Bio != nil {
		user.Bio = *req.Bio
	}
	if req.Skills != nil {
		user.Skills = req.Skills
	}
	if req.WalletAddress != nil {
		user.WalletAddress = *req.WalletAddress
	}

	if err := s.DB.Save(&user).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to update profile"})
	}
	return c.JSON(user)
}

func (s *UserService) SearchUsers(c *fiber.Ctx) error {
	search := c.Query("q")
	if search == "" {
		return c.Status(400).JSON(fiber.Map{"error": "q query parameter is required"})
	}

	var users []models.User
	if err := s.DB.Where("name LIKE ? OR email LIKE ?", "%"+search+"%", "%"+search+"%").
		Limit(20).Find(&users).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to search users"})
	}
	return c.JSON(fiber.Map{"users": users})
}

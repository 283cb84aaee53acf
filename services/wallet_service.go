package services

import (
	"errors"
	"log"

	"devbout/ledger"
	"devbout/models"
	"devbout/settlement"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// WalletService is the HTTP boundary of the settlement subsystem. It does
// eligibility checks against the hackathon state, then hands the monetary
// action to the coordinator.
type WalletService struct {
	DB           *gorm.DB
	Coordinator  *settlement.Coordinator
	Ledger       *ledger.Store
	BadgeService *BadgeService
}

func NewWalletService(db *gorm.DB, coordinator *settlement.Coordinator, store *ledger.Store, badges *BadgeService) *WalletService {
	return &WalletService{DB: db, Coordinator: coordinator, Ledger: store, BadgeService: badges}
}

// Contribute initiates a prize-pool contribution. Clients supply
// X-Idempotency-Key to make retries safe; without it every call is a new
// contribution.
func (s *WalletService) Contribute(c *fiber.Ctx) error {
	hackathonID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	idempotencyKey := c.Get("X-Idempotency-Key")

	var req struct {
		Amount string `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	var hackathon models.Hackathon
	if err := s.DB.First(&hackathon, "id = ?", hackathonID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "hackathon not found"})
	}
	if hackathon.FundingType == models.FundingFullyFunded {
		return c.Status(409).JSON(fiber.Map{"error": "this hackathon does not accept contributions"})
	}
	switch hackathon.Status {
	case models.HackathonOpen, models.HackathonOngoing:
	default:
		return c.Status(409).JSON(fiber.Map{"error": "contributions are only accepted while the hackathon is open or ongoing"})
	}

	contribution, err := s.Coordinator.InitiateContribution(
		c.Context(), hackathonID, userID, req.Amount, idempotencyKey)
	if err != nil {
		return s.settlementError(c, contribution, nil, err)
	}

	if contribution.Status == models.SettlementSubmitted || contribution.Status == models.SettlementConfirmed {
		s.BadgeService.Award(userID, "PATRON")
	}

	return c.Status(202).JSON(contribution)
}

// ClaimPrize initiates the payout of a team prize to the claiming member.
func (s *WalletService) ClaimPrize(c *fiber.Ctx) error {
	prizeID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	idempotencyKey := c.Get("X-Idempotency-Key")

	prize, err := s.Ledger.GetTeamPrize(prizeID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "prize not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch prize"})
	}

	var member models.TeamMember
	if err := s.DB.First(&member, "team_id = ? AND user_id = ?", prize.TeamID, userID).Error; err != nil {
		return c.Status(403).JSON(fiber.Map{"error": "only members of the winning team can claim this prize"})
	}

	claim, err := s.Coordinator.InitiatePrizeClaim(c.Context(), prizeID, userID, idempotencyKey)
	if err != nil {
		return s.settlementError(c, nil, claim, err)
	}
	return c.Status(202).JSON(claim)
}

// GetAction reports an action's current state and its audit trail.
func (s *WalletService) GetAction(c *fiber.Ctx) error {
	actionID := c.Params("id")

	status, err := s.Coordinator.GetStatus(actionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "settlement action not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch settlement action"})
	}

	transitions, err := s.Ledger.Transitions(status.Kind, status.ID)
	if err != nil {
		log.Printf("⚠️ Failed to load transitions for %s: %v", status.ID, err)
	}

	return c.JSON(fiber.Map{
		"action":      status,
		"transitions": transitions,
	})
}

// CancelContribution withdraws a contribution that was never submitted.
func (s *WalletService) CancelContribution(c *fiber.Ctx) error {
	actionID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	contribution, err := s.Ledger.GetContribution(actionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "contribution not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch contribution"})
	}
	if contribution.ContributorID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "only the contributor can cancel"})
	}

	cancelled, err := s.Coordinator.CancelContribution(actionID)
	if err != nil {
		if errors.Is(err, settlement.ErrIrrevocable) {
			return c.Status(409).JSON(fiber.Map{
				"error":  "contribution was already submitted and cannot be recalled",
				"status": cancelled.Status,
			})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to cancel contribution"})
	}
	return c.JSON(cancelled)
}

func (s *WalletService) ListContributions(c *fiber.Ctx) error {
	hackathonID := c.Params("id")

	var contributions []models.Contribution
	if err := s.DB.Where("hackathon_id = ?", hackathonID).
		Order("created_at DESC").Find(&contributions).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch contributions"})
	}
	return c.JSON(fiber.Map{"contributions": contributions})
}

func (s *WalletService) ListPrizes(c *fiber.Ctx) error {
	hackathonID := c.Params("id")

	prizes, err := s.Ledger.TeamPrizesForHackathon(hackathonID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch prizes"})
	}
	return c.JSON(fiber.Map{"prizes": prizes})
}

// settlementError maps coordinator/ledger failures onto HTTP responses. A
// permanent rejection still returns the recorded (FAILED) row so the client
// sees the reason.
func (s *WalletService) settlementError(c *fiber.Ctx, contribution *models.Contribution, claim *models.PrizeClaim, err error) error {
	var validation *ledger.ValidationError
	if errors.As(err, &validation) {
		return c.Status(400).JSON(fiber.Map{"error": validation.Error()})
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "not found"})
	}
	if errors.Is(err, ledger.ErrAlreadyClaimed) {
		return c.Status(409).JSON(fiber.Map{"error": "prize has already been claimed"})
	}
	if errors.Is(err, ledger.ErrClaimInFlight) {
		return c.Status(409).JSON(fiber.Map{"error": "a claim for this prize is already in progress"})
	}

	var body interface{}
	if contribution != nil {
		body = contribution
	} else if claim != nil {
		body = claim
	}

	if settlement.IsRejected(err) {
		return c.Status(422).JSON(fiber.Map{
			"error":  err.Error(),
			"action": body,
		})
	}
	var timeout *settlement.TimeoutError
	if errors.As(err, &timeout) {
		return c.Status(504).JSON(fiber.Map{
			"error":  "settlement backend did not respond in time",
			"action": body,
		})
	}

	log.Printf("❌ Settlement error: %v", err)
	return c.Status(500).JSON(fiber.Map{"error": "settlement failed"})
}

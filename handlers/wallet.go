package handlers

import (
	"devbout/middleware"
	"devbout/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWalletRoutes(app *fiber.App, walletService *services.WalletService) {
	// 🔓 Public routes
	app.Get("/hackathons/:id/contributions", walletService.ListContributions)
	app.Get("/hackathons/:id/prizes", walletService.ListPrizes)

	// 🔐 Authenticated routes — everything that moves money
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/hackathons/:id/contributions", walletService.Contribute)
	secured.Post("/prizes/:id/claim", walletService.ClaimPrize)
	secured.Get("/settlements/:id", walletService.GetAction)
	secured.Post("/settlements/:id/cancel", walletService.CancelContribution)
}

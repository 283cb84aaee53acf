package handlers

import (
	"devbout/middleware"
	"devbout/services"

	"github.com/gofiber/fiber/v2"
)

func SetupHackathonRoutes(app *fiber.App, hackathonService *services.HackathonService, submissionService *services.SubmissionService) {
	// 🔓 Public routes
	app.Get("/hackathons", hackathonService.GetAllHackathons)
	app.Get("/hackathons/:id", hackathonService.GetHackathonByID)
	app.Get("/hackathons/:id/submissions", submissionService.GetSubmissionsForHackathon)
	app.Get("/submissions/:id", submissionService.GetSubmissionByID)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Hackathon CRUD (organizer)
	secured.Post("/hackathons", hackathonService.CreateHackathon)
	secured.Put("/hackathons/:id", hackathonService.UpdateHackathon)
	secured.Delete("/hackathons/:id", hackathonService.DeleteHackathon)
	secured.Patch("/hackathons/:id/cover", hackathonService.UploadCoverImage)

	// Lifecycle
	secured.Patch("/hackathons/:id/status", hackathonService.UpdateHackathonStatus)
	secured.Post("/hackathons/:id/complete", hackathonService.CompleteHackathon)

	// Submissions
	secured.Post("/submissions", submissionService.CreateSubmission)
	secured.Patch("/submissions/:id/score", submissionService.ScoreSubmission)
}

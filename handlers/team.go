package handlers

import (
	"devbout/middleware"
	"devbout/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTeamRoutes(app *fiber.App, teamService *services.TeamService) {
	// 🔓 Public routes
	app.Get("/hackathons/:id/teams", teamService.GetTeamsForHackathon)
	app.Get("/teams/:id", teamService.GetTeamByID)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/teams", teamService.CreateTeam)
	secured.Post("/teams/:id/join-requests", teamService.RequestToJoin)
	secured.Get("/teams/:id/join-requests", teamService.GetJoinRequests)
	secured.Post("/join-requests/:request_id/respond", teamService.RespondToJoinRequest)
	secured.Post("/teams/:id/leave", teamService.LeaveTeam)
	secured.Delete("/teams/:id/members/:user_id", teamService.KickMember)
}

package handlers

import (
	"devbout/middleware"
	"devbout/services"

	"github.com/gofiber/fiber/v2"
)

func SetupUserRoutes(app *fiber.App, userService *services.UserService) {
	// 🔓 Public routes
	app.Get("/users/search", userService.SearchUsers)
	app.Get("/users/:id", userService.GetProfile)

	// Gateway push (behind service token, same as everything else)
	app.Post("/users/sync", userService.UpsertUser)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Put("/users/me", userService.UpdateProfile)
}

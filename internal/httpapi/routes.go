package httpapi

import "github.com/gofiber/fiber/v3"

// RegisterRoutes wires every API endpoint named in §6 onto app, mirroring the teacher's
// server.registerRoutes shape: a single method called once from main after the middleware
// stack is in place.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/healthcheck", h.Health)

	app.Get("/user/stat", h.UserStat)

	app.Post("/connections", h.CreateConnection)
	app.Delete("/connections/:id", h.DeleteConnection)
	app.Post("/connections/:id/reset", h.ResetConnectionStat)

	app.Post("/users", h.CreateUser)
	app.Delete("/users/:id", h.DeleteUser)

	app.Post("/nodes", h.CreateNode)
	app.Patch("/nodes/:id/status", h.UpdateNodeStatus)
}

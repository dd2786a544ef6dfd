package httpagent

import "github.com/gofiber/fiber/v3"

// RegisterRoutes wires the agent's HTTP query surface onto app (§6).
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/healthcheck", h.Health)
	app.Get("/debug/state", h.DebugState)
}

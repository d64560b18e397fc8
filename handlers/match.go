package handlers

import (
	"match-escrow-system/middleware"
	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, escrowService *services.EscrowService, eventService *services.EventService) {
	// 🔓 Read-only routes — no player identity needed, but **still behind Gateway auth**
	app.Get("/matches/active", escrowService.GetActiveMatchIDs)
	app.Get("/matches/:id", escrowService.GetMatch)
	app.Get("/events/stream", eventService.StreamMatchEventsSSE)

	// 🔐 State-changing routes — require the verified caller address
	secured := app.Group("/", middleware.PlayerContextMiddleware())

	// Player lifecycle
	secured.Post("/matches", escrowService.CreateMatch)
	secured.Post("/matches/:id/join", escrowService.JoinMatch)
	secured.Post("/matches/:id/withdraw", escrowService.WithdrawFromMatch)

	// Controller lifecycle (authorization enforced in the engine)
	secured.Post("/matches/:id/activate", escrowService.ActivateMatch)
	secured.Post("/matches/:id/finalize", escrowService.FinalizeMatch)
	secured.Post("/matches/:id/cancel", escrowService.CancelMatch)
}

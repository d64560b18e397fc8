package handlers

import (
	"match-escrow-system/middleware"
	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupFeeRoutes(app *fiber.App, escrowService *services.EscrowService) {
	// 🔓 Fee config is public read
	app.Get("/fees/config", escrowService.GetFeeConfig)

	secured := app.Group("/", middleware.PlayerContextMiddleware())

	// Pull-based fee custody
	secured.Post("/fees/withdraw", escrowService.WithdrawFees)
	secured.Get("/fees/pending", escrowService.GetPendingFees)

	// Admin surface (owner-gated in the engine, not controller)
	secured.Put("/admin/fees", escrowService.SetFeeConfig)
	secured.Put("/admin/settings/max-active-matches", escrowService.SetMaxActiveMatches)
}

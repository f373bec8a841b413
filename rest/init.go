package rest

import (
	"agrisense/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler bundles the services the HTTP layer depends on. All fields are
// injected at startup.
type Handler struct {
	Storage         *services.StorageService
	Aggregates      *services.AggregateService
	Ingest          *services.IngestService
	Tokens          *TokenStore
	Logger          *zap.Logger
	DefaultDeviceID string
}

// RegisterRoutes wires all API endpoints onto the fiber app. Device
// listing and CSV export require a token; the dashboard read paths do not.
func RegisterRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	api.Post("/auth/token", h.GenerateTokenHandler)

	api.Get("/devices", h.RequireAuth, h.GetDevicesHandler)
	api.Get("/data/latest", h.GetLatestDataHandler)
	api.Get("/data/history", h.GetHistoryHandler)
	api.Get("/statistics/device/:device_id", h.GetDeviceStatisticsHandler)
	api.Get("/system/status", h.GetSystemStatusHandler)
	api.Get("/export/csv", h.RequireAuth, h.ExportCSVHandler)
}

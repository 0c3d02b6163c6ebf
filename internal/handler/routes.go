package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/middleware"
	ws "github.com/narrately/api/internal/websocket"
)

// Routes bundles everything the HTTP surface needs
type Routes struct {
	Jobs    *JobHandler
	Preview *PreviewHandler
	Health  *HealthHandler
	Hub     *ws.Hub
	Limiter *middleware.RateLimiter
	Limits  config.RateLimitConfig
}

// Register mounts the API, health and WebSocket routes on app
func Register(app *fiber.App, r Routes) {
	app.Use(middleware.ClientIdentity())

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	if r.Health != nil {
		app.Get("/health", r.Health.Health)
	}

	api := app.Group("/api")

	// Job routes
	api.Post("/jobs", r.Limiter.SubmitLimit(r.Limits.SubmitPerHour), r.Jobs.Submit)
	api.Get("/jobs/:jobId", r.Limiter.StatusLimit(r.Limits.StatusPerMin), r.Jobs.Status)
	api.Post("/jobs/:jobId/cancel", r.Jobs.Cancel)
	api.Get("/jobs/:jobId/activity", r.Limiter.ActivityLimit(r.Limits.ActivityPerMin), r.Jobs.Activity)

	// TTS routes
	if r.Preview != nil {
		tts := api.Group("/tts", r.Limiter.PreviewLimit(r.Limits.PreviewPerMin))
		tts.Post("/preview", r.Preview.Preview)
	}

	// WebSocket routes
	if r.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			jobID := c.Params("jobId")
			r.Hub.HandleConnection(c, jobID)
		}))
	}
}

// ErrorHandler renders unhandled errors in the API envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := "SERVICE_ERROR"
	switch code {
	case fiber.StatusNotFound:
		errCode = "NOT_FOUND"
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		errCode = "VALIDATION_ERROR"
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    errCode,
			"message": message,
		},
	})
}

// Package api builds the Fiber application with its global middleware.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
)

// NewFiberApp creates the HTTP application. Write workflows can hold a
// request open for the full confirm timeout, so the read timeout is generous.
func NewFiberApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:     "futarch-backend API v1.0",
		ReadTimeout: time.Second * 60,
	})

	app.Use(fiberrecover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	return app
}

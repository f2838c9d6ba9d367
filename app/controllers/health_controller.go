package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/taskhive/TaskHive/internal/pkg/cache"
	"github.com/taskhive/TaskHive/internal/pkg/database"
)

// HandleHealth reports liveness of the process and its two backing stores.
func HandleHealth(c *fiber.Ctx) error {
	status := fiber.StatusOK
	checks := fiber.Map{"database": "ok", "cache": "ok"}

	if db := database.GetDB(); db == nil {
		checks["database"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		checks["database"] = "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	if err := cache.GetClient().Ping(c.Context()).Err(); err != nil {
		checks["cache"] = "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{"status": checks})
}

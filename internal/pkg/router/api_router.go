package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/taskhive/TaskHive/app/controllers"
	"github.com/taskhive/TaskHive/internal/pkg/constants"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealth)

	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Webhooks are exempt from the limiter: the gateway signs and retries,
	// and dedup happens at the persistence layer.
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/vdcapital/billing/app/controllers"
	"github.com/vdcapital/billing/internal/pkg/constants"
	"github.com/vdcapital/billing/internal/pkg/middleware"
)

const (
	apiRateLimit       = 120
	apiRateLimitWindow = time.Minute
)

type ApiRouter struct {
	billing    *controllers.BillingController
	cronSecret string
	storage    fiber.Storage
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIPrefix, limiter.New(limiter.Config{
		Max:        apiRateLimit,
		Expiration: apiRateLimitWindow,
		Storage:    h.storage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "billing api",
		})
	})

	api.Post(constants.PayFastInitiateRoute, h.billing.HandlePayFastInitiate)
	api.Post(constants.PayFastNotifyRoute, h.billing.HandlePayFastNotify)
	api.Post(constants.PaystackWebhookRoute, h.billing.HandlePaystackWebhook)

	cron := middleware.CronSecretMiddleware(h.cronSecret)
	api.Get(constants.ProcessUpgradesRoute, cron, h.billing.HandleProcessUpgrades)
	api.Post(constants.ProcessUpgradesRoute, cron, h.billing.HandleProcessUpgrades)
}

// NewApiRouter wires the billing endpoints. A nil storage keeps limiter
// counters in memory.
func NewApiRouter(billing *controllers.BillingController, cronSecret string, storage fiber.Storage) *ApiRouter {
	return &ApiRouter{billing: billing, cronSecret: cronSecret, storage: storage}
}

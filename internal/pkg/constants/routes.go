package constants

// API route constants
const (
	APIPrefix = "/api"

	PayFastInitiateRoute = "/payfast/initiate"
	PayFastNotifyRoute   = "/payfast/notify"
	PaystackWebhookRoute = "/paystack/webhook"
	ProcessUpgradesRoute = "/cron/process-upgrades"
)

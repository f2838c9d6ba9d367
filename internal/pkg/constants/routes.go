package constants

// Static route constants
const (
	HealthRoute        = "/health"
	MetricsRoute       = "/metrics"
	APIRoute           = "/api"
	StripeWebhookRoute = "/webhooks/stripe"
)

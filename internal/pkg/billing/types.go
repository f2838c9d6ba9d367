package billing

import "time"

const (
	// EventSubscriptionUpdated covers every lifecycle change short of the
	// subscription disappearing upstream.
	EventSubscriptionUpdated = "subscription.updated"
	// EventSubscriptionDeleted means the subscription no longer exists at the
	// provider; it is treated as an immediate hard expiry.
	EventSubscriptionDeleted = "subscription.deleted"
)

// SubscriptionEvent is the provider-agnostic shape the reconciler consumes.
// The Stripe adapter in stripe.go produces it from raw webhook payloads.
type SubscriptionEvent struct {
	Provider       string `validate:"required"`
	Type           string `validate:"required,oneof=subscription.updated subscription.deleted"`
	SubscriptionID string `validate:"required"`
	Status         string `validate:"required"`
	// GroupID and Plan come from the provider-side metadata the checkout
	// flow attached when the subscription was created.
	GroupID           uint
	Plan              string
	PlanRef           string
	CurrentPeriodEnd  *time.Time
	EndsAt            *time.Time
	CancelAtPeriodEnd bool
	// OccurredAt is the provider's event timestamp, used to discard stale
	// out-of-order deliveries.
	OccurredAt     time.Time `validate:"required"`
	RawPayloadJSON string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// SweepStats summarizes one fallback sweep run.
type SweepStats struct {
	Checked int
	Expired int
	Failed  int
}

package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/taskhive/TaskHive/app/models"
	"github.com/taskhive/TaskHive/internal/pkg/env"
	"github.com/taskhive/TaskHive/internal/pkg/purchase"
)

// Stripe webhook event types this core consumes.
const (
	stripeEventSubscriptionUpdated = "customer.subscription.updated"
	stripeEventSubscriptionCreated = "customer.subscription.created"
	stripeEventSubscriptionDeleted = "customer.subscription.deleted"
	stripeEventCheckoutCompleted   = "checkout.session.completed"
)

// ConstructWebhookEvent verifies the Stripe signature header and parses the
// raw payload. Anything with an invalid signature is rejected before any
// processing happens.
func ConstructWebhookEvent(payload []byte, signatureHeader, webhookSecret string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return event, nil
}

// IsSubscriptionEvent reports whether the Stripe event maps onto the
// reconciler's input.
func IsSubscriptionEvent(eventType string) bool {
	switch eventType {
	case stripeEventSubscriptionUpdated, stripeEventSubscriptionCreated, stripeEventSubscriptionDeleted:
		return true
	default:
		return false
	}
}

// IsCheckoutCompletedEvent reports whether the event confirms a paid token
// checkout.
func IsCheckoutCompletedEvent(eventType string) bool {
	return eventType == stripeEventCheckoutCompleted
}

// SubscriptionEventFromStripe normalizes a Stripe subscription lifecycle
// event. Group and intended plan come from the subscription metadata written
// at checkout time.
func SubscriptionEventFromStripe(event *stripe.Event) (*SubscriptionEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription payload: %w", err)
	}

	kind := EventSubscriptionUpdated
	if string(event.Type) == stripeEventSubscriptionDeleted {
		kind = EventSubscriptionDeleted
	}

	groupID, err := groupIDFromMetadata(sub.Metadata)
	if err != nil {
		return nil, err
	}

	return &SubscriptionEvent{
		Provider:          models.BillingProviderStripe,
		Type:              kind,
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		GroupID:           groupID,
		Plan:              strings.TrimSpace(sub.Metadata["plan"]),
		PlanRef:           subscriptionPriceRef(&sub),
		CurrentPeriodEnd:  subscriptionPeriodEnd(&sub),
		EndsAt:            subscriptionEndsAt(&sub),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		OccurredAt:        time.Unix(event.Created, 0).UTC(),
		RawPayloadJSON:    string(event.Data.Raw),
	}, nil
}

// CheckoutCompletion carries the fields needed to credit a purchase once the
// gateway confirms payment.
type CheckoutCompletion struct {
	SessionID         string
	PurchaseRequestID uint
	RequesterID       uint
	TokenAmount       int64
}

// CheckoutCompletionFromStripe extracts the purchase metadata attached when
// the checkout session was created.
func CheckoutCompletionFromStripe(event *stripe.Event) (*CheckoutCompletion, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("parse checkout session payload: %w", err)
	}

	requestID, err := strconv.ParseUint(strings.TrimSpace(cs.Metadata["purchase_request_id"]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s has no purchase_request_id metadata", cs.ID)
	}
	requesterID, err := strconv.ParseUint(strings.TrimSpace(cs.Metadata["requester_id"]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s has no requester_id metadata", cs.ID)
	}
	tokens, err := strconv.ParseInt(strings.TrimSpace(cs.Metadata["token_amount"]), 10, 64)
	if err != nil || tokens <= 0 {
		return nil, fmt.Errorf("checkout session %s has no usable token_amount metadata", cs.ID)
	}

	return &CheckoutCompletion{
		SessionID:         cs.ID,
		PurchaseRequestID: uint(requestID),
		RequesterID:       uint(requesterID),
		TokenAmount:       tokens,
	}, nil
}

func groupIDFromMetadata(meta map[string]string) (uint, error) {
	raw := strings.TrimSpace(meta["group_id"])
	if raw == "" {
		return 0, ErrUnknownGroup
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrUnknownGroup
	}
	return uint(id), nil
}

// subscriptionPeriodEnd reads the period end from the first subscription item;
// Stripe moved the field off the subscription object.
func subscriptionPeriodEnd(sub *stripe.Subscription) *time.Time {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	end := sub.Items.Data[0].CurrentPeriodEnd
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// subscriptionEndsAt derives the effective end of a (scheduled) cancellation.
func subscriptionEndsAt(sub *stripe.Subscription) *time.Time {
	var ts int64
	switch {
	case sub.EndedAt > 0:
		ts = sub.EndedAt
	case sub.CancelAt > 0:
		ts = sub.CancelAt
	case sub.CancelAtPeriodEnd:
		if end := subscriptionPeriodEnd(sub); end != nil {
			return end
		}
		return nil
	default:
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func subscriptionPriceRef(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

// StripeCheckoutClient creates hosted checkout sessions for approved purchase
// requests. It satisfies purchase.CheckoutClient.
type StripeCheckoutClient struct {
	successURL string
	cancelURL  string
}

// NewStripeCheckoutClientFromEnv configures the Stripe SDK key and return
// URLs from the environment.
func NewStripeCheckoutClientFromEnv() *StripeCheckoutClient {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
	base := strings.TrimRight(env.GetEnv("APP_BASE_URL", "http://localhost:4000"), "/")
	return &StripeCheckoutClient{
		successURL: base + "/tokens/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  base + "/tokens/checkout/canceled",
	}
}

func (c *StripeCheckoutClient) CreateCheckoutSession(ctx context.Context, in purchase.CheckoutSessionInput) (*purchase.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceRef),
				Quantity: stripe.Int64(in.Quantity),
			},
		},
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(in.ClientReference),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return &purchase.CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/taskhive/TaskHive/internal/pkg/billing"
	"github.com/taskhive/TaskHive/internal/pkg/database"
	"github.com/taskhive/TaskHive/internal/pkg/ledger"
)

// processWebhookDispatchJob loads a persisted billing webhook event and feeds
// it to the reconciler or the purchase-credit path. Referential failures
// (unknown group, unusable metadata) are recorded on the event row and acked
// so a poison event never blocks the queue; the entitlement sweep covers
// whatever was dropped.
func (q *Queue) processWebhookDispatchJob(ctx context.Context, job *Job) error {
	payload, err := WebhookDispatchJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid webhook dispatch payload: %w", err)
	}

	db := database.GetDB()
	billingService := billing.NewServiceFromDB(db)

	record, err := billingService.GetWebhookEvent(ctx, payload.WebhookEventID)
	if err != nil {
		return fmt.Errorf("load webhook event %d: %w", payload.WebhookEventID, err)
	}
	if record.ProcessedAt != nil {
		log.Debugf("[JobQueue] Webhook event %d already processed, skipping", record.ID)
		return nil
	}

	var event stripe.Event
	if err := json.Unmarshal([]byte(record.PayloadJSON), &event); err != nil {
		// Unparseable payloads are acked with the error recorded.
		return billingService.MarkWebhookProcessed(ctx, record.ID, fmt.Errorf("unparseable payload: %w", err))
	}

	var processErr error
	switch {
	case billing.IsSubscriptionEvent(record.EventType):
		processErr = q.dispatchSubscriptionEvent(ctx, billingService, &event)
	case billing.IsCheckoutCompletedEvent(record.EventType):
		processErr = q.dispatchCheckoutCompletion(ctx, &event)
	default:
		log.Debugf("[JobQueue] Ignoring webhook event type %s", record.EventType)
	}

	if processErr != nil && !isAckableBillingError(processErr) {
		// Transient failure: leave the event unprocessed and let the job retry.
		return processErr
	}
	return billingService.MarkWebhookProcessed(ctx, record.ID, processErr)
}

func (q *Queue) dispatchSubscriptionEvent(ctx context.Context, billingService *billing.Service, event *stripe.Event) error {
	normalized, err := billing.SubscriptionEventFromStripe(event)
	if err != nil {
		return err
	}
	return billingService.ProcessEvent(ctx, *normalized)
}

// dispatchCheckoutCompletion credits the purchased tokens to the requester's
// paid pool once the gateway confirms payment. The credit is keyed to the
// checkout session id: a retried job whose first run credited the tokens but
// died before marking the event processed finds the session already granted
// and acks instead of crediting again.
func (q *Queue) dispatchCheckoutCompletion(ctx context.Context, event *stripe.Event) error {
	completion, err := billing.CheckoutCompletionFromStripe(event)
	if err != nil {
		return err
	}

	ledgerService := ledger.NewServiceFromDB(database.GetDB())
	owner := ledger.UserOwner(completion.RequesterID)
	source := "stripe:" + completion.SessionID
	_, applied, err := ledgerService.CreditOnce(ctx, owner, completion.TokenAmount, ledger.PoolPaid, "token_purchase", source)
	if err != nil {
		return fmt.Errorf("credit purchase request %d: %w", completion.PurchaseRequestID, err)
	}
	if !applied {
		log.Infof("[JobQueue] Checkout session %s already credited, skipping", completion.SessionID)
		return nil
	}
	log.Infof("[JobQueue] Credited %d paid tokens to user %d (purchase request %d)",
		completion.TokenAmount, completion.RequesterID, completion.PurchaseRequestID)
	return nil
}

// isAckableBillingError reports whether the failure is permanent for this
// event and retrying would never help.
func isAckableBillingError(err error) bool {
	return errors.Is(err, billing.ErrUnknownGroup)
}

// processEntitlementSweepJob runs one fallback entitlement sweep.
func (q *Queue) processEntitlementSweepJob(ctx context.Context) error {
	stats, err := billing.NewServiceFromDB(database.GetDB()).RunSweep(ctx)
	if err != nil {
		return err
	}
	log.Infof("[JobQueue] Entitlement sweep finished: %d checked, %d expired, %d failed",
		stats.Checked, stats.Expired, stats.Failed)
	return nil
}

package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/taskhive/TaskHive/app/models"
	"github.com/taskhive/TaskHive/internal/pkg/billing"
	"github.com/taskhive/TaskHive/internal/pkg/database"
	"github.com/taskhive/TaskHive/internal/pkg/env"
	"github.com/taskhive/TaskHive/internal/pkg/jobqueue"
)

// HandleStripeWebhook receives payment gateway events. The handler only
// verifies, persists and enqueues: all reconciliation happens on the job
// queue workers, so a slow database can never back up gateway retry loops.
// Delivery is at-least-once; the dedup index on the event table turns
// re-deliveries into acknowledged no-ops.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	event, verifyErr := billing.ConstructWebhookEvent(rawBody, signature, secret)
	signatureValid := verifyErr == nil

	eventID := event.ID
	eventType := string(event.Type)

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		// A redelivery whose stored row never got its dispatch job (enqueue
		// failed on the first delivery) must re-enqueue here: plain acking
		// would strand the event unprocessed forever, because the gateway
		// stops retrying after a 200.
		if shouldRedispatch(stored) {
			if err := enqueueWebhookDispatch(stored.ID); err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	if !isDispatchableEvent(eventType) {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	if err := enqueueWebhookDispatch(stored.ID); err != nil {
		// Event row stays unprocessed; the next gateway redelivery lands in
		// the duplicate branch above and re-enqueues it.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// isDispatchableEvent reports whether the event type feeds the reconciler or
// the purchase-credit path. Everything else is acked without a job.
func isDispatchableEvent(eventType string) bool {
	return billing.IsSubscriptionEvent(eventType) || billing.IsCheckoutCompletedEvent(eventType)
}

// shouldRedispatch reports whether a redelivered event still needs a dispatch
// job. True only while the stored row is unprocessed and was accepted as a
// verified, dispatchable event on first delivery. An extra job for an event
// whose worker simply has not run yet is harmless: the worker acks events
// that are already processed, and the processing itself is idempotent.
func shouldRedispatch(stored *models.BillingWebhookEvent) bool {
	return stored.ProcessedAt == nil && stored.SignatureValid && isDispatchableEvent(stored.EventType)
}

func enqueueWebhookDispatch(webhookEventID uint) error {
	payload := jobqueue.WebhookDispatchJobPayload{WebhookEventID: webhookEventID}
	_, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeWebhookDispatch, payload.ToMap())
	return err
}

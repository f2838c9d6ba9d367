package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/taskhive/TaskHive/app/models"
	"github.com/taskhive/TaskHive/internal/pkg/entitlements"
	"gorm.io/gorm"
)

// ErrUnknownGroup is returned when an event's metadata does not resolve to a
// local group. The event dispatcher logs and acknowledges it; the fallback
// sweep covers anything consequently missed.
var ErrUnknownGroup = errors.New("billing: unknown group")

// Service reconciles external subscription state into group entitlements.
// The group fields it writes are the single gate consulted by feature code.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// ProcessEvent applies one normalized subscription event. It is idempotent
// and order-independent: the mirror row is overwritten wholesale (events
// strictly older than the mirrored state are discarded), and the entitlement
// decision is a pure function of the mirrored status and end date, never of
// arrival order.
func (s *Service) ProcessEvent(ctx context.Context, ev SubscriptionEvent) error {
	if err := s.validate.Struct(ev); err != nil {
		return fmt.Errorf("invalid subscription event: %w", err)
	}
	if ev.GroupID == 0 {
		return ErrUnknownGroup
	}

	err := s.repo.WithGroupLock(ctx, ev.GroupID, func(tx TxRepository, group *models.Group) error {
		existing, err := tx.GetSubscription(ev.Provider, ev.SubscriptionID)
		if err != nil {
			return fmt.Errorf("load subscription mirror: %w", err)
		}
		if existing != nil && existing.LastEventAt != nil && ev.OccurredAt.Before(*existing.LastEventAt) {
			log.Warnf("[Billing] Discarding stale event for subscription %s (event %s < mirror %s)",
				ev.SubscriptionID, ev.OccurredAt.Format(time.RFC3339), existing.LastEventAt.Format(time.RFC3339))
			return nil
		}

		occurred := ev.OccurredAt
		mirror := &models.BillingSubscription{
			GroupID:                ev.GroupID,
			Provider:               ev.Provider,
			ProviderSubscriptionID: ev.SubscriptionID,
			PlanRef:                strings.TrimSpace(ev.PlanRef),
			Status:                 strings.ToLower(strings.TrimSpace(ev.Status)),
			CurrentPeriodEnd:       ev.CurrentPeriodEnd,
			EndsAt:                 ev.EndsAt,
			CancelAtPeriodEnd:      ev.CancelAtPeriodEnd,
			LastEventAt:            &occurred,
			RawPayloadJSON:         ev.RawPayloadJSON,
		}
		if err := tx.UpsertSubscription(mirror); err != nil {
			return fmt.Errorf("upsert subscription mirror: %w", err)
		}

		changed := s.deriveEntitlements(group, mirror, ev.Type == EventSubscriptionDeleted, ev.Plan)
		if !changed {
			return nil
		}
		return tx.SaveGroup(group)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUnknownGroup
	}
	return err
}

// deriveEntitlements maps the mirrored subscription state onto the group's
// entitlement fields. Deletion counts as hard expiry regardless of end date.
// Returns whether anything changed.
func (s *Service) deriveEntitlements(group *models.Group, mirror *models.BillingSubscription, deleted bool, intendedPlan string) bool {
	if deleted || mirror.HardExpired(s.now()) {
		return applyFreeTier(group)
	}

	changed := false
	active := mirror.Status == models.BillingStatusActive
	if group.SubscriptionActive != active {
		group.SubscriptionActive = active
		changed = true
	}
	if active {
		plan := entitlements.NormalizePlan(intendedPlan)
		limits := entitlements.LimitsFor(plan)
		name := string(plan)
		if group.SubscriptionPlan == nil || *group.SubscriptionPlan != name {
			group.SubscriptionPlan = &name
			changed = true
		}
		if group.MaxMembers != limits.MaxMembers || group.MaxGroups != limits.MaxGroups {
			group.MaxMembers = limits.MaxMembers
			group.MaxGroups = limits.MaxGroups
			changed = true
		}
	}
	return changed
}

// applyFreeTier resets a group's entitlement fields to the free tier. It
// reports whether a write is needed, so callers can skip no-op saves.
func applyFreeTier(group *models.Group) bool {
	free := entitlements.FreeTier()
	if !group.SubscriptionActive && group.SubscriptionPlan == nil &&
		group.MaxMembers == free.MaxMembers && group.MaxGroups == free.MaxGroups {
		return false
	}
	group.SubscriptionActive = false
	group.SubscriptionPlan = nil
	group.MaxMembers = free.MaxMembers
	group.MaxGroups = free.MaxGroups
	return true
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without a
// provider event ID are deduplicated by payload digest.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// GetWebhookEvent loads a stored webhook event by local ID.
func (s *Service) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	return s.repo.GetWebhookEvent(ctx, id)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, processingErr)
}

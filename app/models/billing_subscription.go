package models

import "time"

const (
	BillingProviderStripe = "stripe"
)

const (
	BillingStatusActive            = "active"
	BillingStatusTrialing          = "trialing"
	BillingStatusPastDue           = "past_due"
	BillingStatusCanceled          = "canceled"
	BillingStatusIncomplete        = "incomplete"
	BillingStatusIncompleteExpired = "incomplete_expired"
	BillingStatusUnpaid            = "unpaid"
	BillingStatusPaused            = "paused"
)

// BillingSubscription mirrors a provider subscription for a group. It is a
// cache of gateway state, never authoritative: the reconciler overwrites it
// wholesale on every accepted event, and entitlements are derived from it.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	GroupID                uint       `gorm:"not null;index" json:"group_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	PlanRef                string     `gorm:"type:varchar(191);not null" json:"plan_ref"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	EndsAt                 *time.Time `gorm:"type:timestamp;default:null;index" json:"ends_at,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventAt            *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCanceledState reports whether the mirrored status is a cancellation
// terminal state as far as entitlements are concerned.
func (s *BillingSubscription) IsCanceledState() bool {
	switch s.Status {
	case BillingStatusCanceled, BillingStatusIncompleteExpired, BillingStatusUnpaid:
		return true
	default:
		return false
	}
}

// HardExpired reports whether the cancellation grace period has lapsed at the
// given instant: a canceled state with no end date, or one whose end date has
// passed.
func (s *BillingSubscription) HardExpired(now time.Time) bool {
	if !s.IsCanceledState() {
		return false
	}
	return s.EndsAt == nil || !s.EndsAt.After(now)
}

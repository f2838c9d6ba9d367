package models

import "time"

const (
	PurchaseRequestPending  = "pending"
	PurchaseRequestApproved = "approved"
	PurchaseRequestRejected = "rejected"
)

// TokenPurchaseRequest tracks a child's request to buy a token package. The
// status transitions one-way from pending to approved or rejected; terminal
// states are immutable.
type TokenPurchaseRequest struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	RequesterID       uint       `gorm:"not null;index" json:"requester_id"`
	PackageID         uint       `gorm:"not null;index" json:"package_id"`
	Status            string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ApprovedByUserID  *uint      `json:"approved_by_user_id,omitempty"`
	ApprovedAt        *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	RejectionReason   string     `gorm:"type:text" json:"rejection_reason"`
	CheckoutSessionID string     `gorm:"type:varchar(191)" json:"checkout_session_id"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPending reports whether the request can still be resolved.
func (r *TokenPurchaseRequest) IsPending() bool {
	return r.Status == PurchaseRequestPending
}

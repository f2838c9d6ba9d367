package models

import "time"

const (
	TokenTxKindCredit = "credit"
	TokenTxKindDebit  = "debit"
	TokenTxKindAdjust = "adjust"

	TokenPoolFree  = "free"
	TokenPoolPaid  = "paid"
	TokenPoolMixed = "mixed"
)

// TokenTransaction is the append-only audit record written alongside every
// ledger mutation. Amount is signed: positive for credits, negative for debits.
type TokenTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OwnerType    string    `gorm:"type:varchar(10);not null;index:idx_token_transactions_owner,priority:1" json:"owner_type"`
	OwnerID      uint      `gorm:"not null;index:idx_token_transactions_owner,priority:2" json:"owner_id"`
	Kind         string    `gorm:"type:varchar(16);not null;index" json:"kind"`
	Pool         string    `gorm:"type:varchar(10);not null" json:"pool"`
	Amount       int64     `gorm:"not null" json:"amount"`
	FreeAfter    int64     `gorm:"not null" json:"free_after"`
	PaidAfter    int64     `gorm:"not null" json:"paid_after"`
	Reason       string    `gorm:"type:varchar(100);not null;index" json:"reason"`
	Source       string    `gorm:"type:varchar(100);not null" json:"source"`
	ActingUserID *uint     `gorm:"index" json:"acting_user_id,omitempty"`
	Note         string    `gorm:"type:text" json:"note"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	TokenOwnerUser  = "user"
	TokenOwnerGroup = "group"
)

// TokenBalance holds the two token pools for a user or group. Both pools are
// invariantly non-negative; every mutation goes through the ledger service,
// which rejects rather than clamps a violating debit.
type TokenBalance struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	OwnerType              string    `gorm:"type:varchar(10);not null;index:ux_token_balances_owner,unique,priority:1" json:"owner_type"`
	OwnerID                uint      `gorm:"not null;index:ux_token_balances_owner,unique,priority:2" json:"owner_id"`
	FreeBalance            int64     `gorm:"not null;default:0" json:"free_balance"`
	PaidBalance            int64     `gorm:"not null;default:0" json:"paid_balance"`
	FreeBalanceResetAt     time.Time `gorm:"type:timestamp;not null" json:"free_balance_reset_at"`
	TotalConsumed          int64     `gorm:"not null;default:0" json:"total_consumed"`
	MonthlyConsumed        int64     `gorm:"not null;default:0" json:"monthly_consumed"`
	MonthlyConsumedResetAt time.Time `gorm:"type:timestamp;not null" json:"monthly_consumed_reset_at"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Total returns the combined spendable balance across both pools.
func (b *TokenBalance) Total() int64 {
	return b.FreeBalance + b.PaidBalance
}

// EnsureTokenBalance creates the balance row for an owner if it does not exist
// yet and returns the stored row. Rows are created lazily on first access and
// never deleted while the owner exists. The reset stamps are seeded as already
// elapsed so the first ledger access grants the initial free allotment.
func EnsureTokenBalance(db *gorm.DB, ownerType string, ownerID uint, now time.Time) (*TokenBalance, error) {
	seed := &TokenBalance{
		OwnerType:              ownerType,
		OwnerID:                ownerID,
		FreeBalanceResetAt:     now,
		MonthlyConsumedResetAt: now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "owner_type"},
			{Name: "owner_id"},
		},
		DoNothing: true,
	}).Create(seed).Error; err != nil {
		return nil, err
	}

	var stored TokenBalance
	if err := db.Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// NextMonthStart returns the first instant of the calendar month following t,
// in UTC. Monthly quota and free-pool boundaries all use this rule.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// TokenPackage is a catalog entry for a purchasable token bundle. Read-only
// from the ledger's perspective; managed through the admin surface.
type TokenPackage struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(100);not null" json:"name"`
	TokenAmount   int64     `gorm:"not null" json:"token_amount"`
	PriceCents    int64     `gorm:"not null" json:"price_cents"`
	Currency      string    `gorm:"type:varchar(3);not null;default:'eur'" json:"currency"`
	StripePriceID string    `gorm:"type:varchar(191);not null" json:"stripe_price_id"`
	IsActive      bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindActiveTokenPackage loads a package that is still purchasable.
func FindActiveTokenPackage(db *gorm.DB, id uint) (*TokenPackage, error) {
	var pkg TokenPackage
	if err := db.Where("id = ? AND is_active = ?", id, true).First(&pkg).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

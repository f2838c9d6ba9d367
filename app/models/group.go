package models

import (
	"time"

	"gorm.io/gorm"
)

// Group is a family/group account. The subscription and quota fields below are
// derived entitlement state: they are written only by the billing reconciler,
// the entitlement sweep, the usage counter or an explicit admin override.
type Group struct {
	ID                         uint           `gorm:"primaryKey" json:"id"`
	Name                       string         `gorm:"type:varchar(150);not null" json:"name"`
	OwnerUserID                uint           `gorm:"index" json:"owner_user_id"`
	SubscriptionActive         bool           `gorm:"default:false;index" json:"subscription_active"`
	SubscriptionPlan           *string        `gorm:"type:varchar(50);default:null" json:"subscription_plan,omitempty"`
	MaxMembers                 int            `gorm:"not null;default:4" json:"max_members"`
	MaxGroups                  int            `gorm:"not null;default:1" json:"max_groups"`
	GroupTaskCountCurrentMonth int            `gorm:"not null;default:0" json:"group_task_count_current_month"`
	FreeGroupTaskLimit         int            `gorm:"not null;default:30" json:"free_group_task_limit"`
	GroupTaskCountResetAt      time.Time      `gorm:"type:timestamp;not null" json:"group_task_count_reset_at"`
	// TasksCreatedTotal is a lifetime activity counter, batched in from Redis.
	TasksCreatedTotal          int64          `gorm:"not null;default:0" json:"tasks_created_total"`
	CreatedAt                  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt                  gorm.DeletedAt `gorm:"index" json:"-"`
}

// PlanName returns the subscription plan or the empty string for the free tier.
func (g *Group) PlanName() string {
	if g.SubscriptionPlan == nil {
		return ""
	}
	return *g.SubscriptionPlan
}

func FindGroupByID(db *gorm.DB, id uint) (*Group, error) {
	var g Group
	if err := db.First(&g, id).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

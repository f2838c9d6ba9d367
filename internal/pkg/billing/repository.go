package billing

import (
	"context"
	"time"

	"github.com/taskhive/TaskHive/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TxRepository is the slice of repository operations available inside a
// group-locked transaction.
type TxRepository interface {
	// GetSubscription returns the mirror row for a provider subscription, or
	// nil when none exists yet.
	GetSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error)
	UpsertSubscription(sub *models.BillingSubscription) error
	SaveGroup(group *models.Group) error
}

// Repository provides DB operations used by the billing service. WithGroupLock
// is the serialization point: two events for the same group cannot interleave,
// while events for different groups run in parallel.
type Repository interface {
	WithGroupLock(ctx context.Context, groupID uint, fn func(tx TxRepository, group *models.Group) error) error
	ListHardExpiryCandidates(ctx context.Context, now time.Time) ([]models.BillingSubscription, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

type gormTxRepository struct {
	tx *gorm.DB
}

func (r *gormRepository) WithGroupLock(ctx context.Context, groupID uint, fn func(tx TxRepository, group *models.Group) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&group, groupID).Error; err != nil {
			return err
		}
		return fn(&gormTxRepository{tx: tx}, &group)
	})
}

func (t *gormTxRepository) GetSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := t.tx.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (t *gormTxRepository) UpsertSubscription(sub *models.BillingSubscription) error {
	if err := t.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"group_id",
			"plan_ref",
			"status",
			"current_period_end",
			"ends_at",
			"cancel_at_period_end",
			"last_event_at",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return t.tx.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func (t *gormTxRepository) SaveGroup(group *models.Group) error {
	return t.tx.Save(group).Error
}

func (r *gormRepository) ListHardExpiryCandidates(ctx context.Context, now time.Time) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.WithContext(ctx).
		Where("status IN ? AND (ends_at IS NULL OR ends_at <= ?)",
			[]string{models.BillingStatusCanceled, models.BillingStatusIncompleteExpired, models.BillingStatusUnpaid},
			now).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var event models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error {
	now := time.Now()
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": errMsg,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

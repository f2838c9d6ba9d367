package purchase

import (
	"context"
	"errors"

	"github.com/taskhive/TaskHive/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the purchase workflow.
type Repository interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetActivePackage(ctx context.Context, id uint) (*models.TokenPackage, error)
	GetPackage(ctx context.Context, id uint) (*models.TokenPackage, error)
	CreateRequest(ctx context.Context, req *models.TokenPurchaseRequest) error
	GetRequest(ctx context.Context, id uint) (*models.TokenPurchaseRequest, error)

	// ResolveRequest loads the request under an exclusive lock and applies fn;
	// the transition commits atomically. fn sees the current row, so the
	// pending check and the state write cannot race with a concurrent
	// resolution.
	ResolveRequest(ctx context.Context, id uint, fn func(req *models.TokenPurchaseRequest) error) (*models.TokenPurchaseRequest, error)

	// SetCheckoutSession stores the session reference after the approval
	// transaction has committed.
	SetCheckoutSession(ctx context.Context, id uint, sessionID string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a purchase repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetActivePackage(ctx context.Context, id uint) (*models.TokenPackage, error) {
	return models.FindActiveTokenPackage(r.db.WithContext(ctx), id)
}

func (r *gormRepository) GetPackage(ctx context.Context, id uint) (*models.TokenPackage, error) {
	var pkg models.TokenPackage
	if err := r.db.WithContext(ctx).First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *gormRepository) CreateRequest(ctx context.Context, req *models.TokenPurchaseRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *gormRepository) GetRequest(ctx context.Context, id uint) (*models.TokenPurchaseRequest, error) {
	var req models.TokenPurchaseRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *gormRepository) ResolveRequest(ctx context.Context, id uint, fn func(req *models.TokenPurchaseRequest) error) (*models.TokenPurchaseRequest, error) {
	var resolved *models.TokenPurchaseRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.TokenPurchaseRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, id).Error; err != nil {
			return err
		}
		if err := fn(&req); err != nil {
			return err
		}
		if err := tx.Save(&req).Error; err != nil {
			return err
		}
		resolved = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *gormRepository) SetCheckoutSession(ctx context.Context, id uint, sessionID string) error {
	res := r.db.WithContext(ctx).Model(&models.TokenPurchaseRequest{}).
		Where("id = ?", id).
		Update("checkout_session_id", sessionID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("purchase request vanished before session could be stored")
	}
	return nil
}

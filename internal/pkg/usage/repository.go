package usage

import (
	"context"

	"github.com/taskhive/TaskHive/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the group reads and locked writes the counter needs.
type Repository interface {
	// GetGroup is a plain non-locking read, used for quota checks.
	GetGroup(ctx context.Context, groupID uint) (*models.Group, error)
	// MutateGroup runs fn on the group inside a transaction holding a row
	// lock, then persists the group. The reset check and the increment must
	// share this atomic unit.
	MutateGroup(ctx context.Context, groupID uint, fn func(group *models.Group) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a usage repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetGroup(ctx context.Context, groupID uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).First(&group, groupID).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *gormRepository) MutateGroup(ctx context.Context, groupID uint, fn func(group *models.Group) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&group, groupID).Error; err != nil {
			return err
		}
		if err := fn(&group); err != nil {
			return err
		}
		return tx.Save(&group).Error
	})
}

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/taskhive/TaskHive/app/models"
	"github.com/taskhive/TaskHive/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the transactional balance access used by the ledger
// service. Implementations must serialize concurrent mutations against the
// same owner; mutations against different owners must not contend.
type Repository interface {
	// MutateBalance loads the owner's balance row under an exclusive lock,
	// creating it lazily if absent, applies fn, and persists the updated row
	// together with the audit record fn returns, all in one atomic unit.
	// Returning an error from fn aborts the transaction without any write.
	MutateBalance(ctx context.Context, owner Owner, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, error)

	// MutateBalanceOnce is MutateBalance keyed to a source string: when a
	// credit transaction carrying source already exists for the owner, fn is
	// skipped and the current balance is returned with applied false. The
	// existence check runs under the same row lock as the mutation, so a
	// concurrent retry of the same source serializes behind the first write
	// and sees its transaction.
	MutateBalanceOnce(ctx context.Context, owner Owner, source string, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (balance *models.TokenBalance, applied bool, err error)

	// MonthlyAllotment resolves the free-pool amount granted to the owner on
	// each monthly reset.
	MonthlyAllotment(ctx context.Context, owner Owner) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) MutateBalance(ctx context.Context, owner Owner, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, error) {
	balance, _, err := r.mutate(ctx, owner, "", fn)
	return balance, err
}

func (r *gormRepository) MutateBalanceOnce(ctx context.Context, owner Owner, source string, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, bool, error) {
	return r.mutate(ctx, owner, source, fn)
}

func (r *gormRepository) mutate(ctx context.Context, owner Owner, dedupSource string, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, bool, error) {
	var result *models.TokenBalance
	applied := true
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := models.EnsureTokenBalance(tx, owner.Type, owner.ID, time.Now()); err != nil {
			return err
		}

		var balance models.TokenBalance
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID).
			First(&balance).Error; err != nil {
			return err
		}

		if dedupSource != "" {
			var seen int64
			if err := tx.Model(&models.TokenTransaction{}).
				Where("owner_type = ? AND owner_id = ? AND kind = ? AND source = ?",
					owner.Type, owner.ID, models.TokenTxKindCredit, dedupSource).
				Count(&seen).Error; err != nil {
				return err
			}
			if seen > 0 {
				applied = false
				result = &balance
				return nil
			}
		}

		record, err := fn(&balance)
		if err != nil {
			return err
		}

		if err := tx.Save(&balance).Error; err != nil {
			return err
		}
		if record != nil {
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}

		result = &balance
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (r *gormRepository) MonthlyAllotment(ctx context.Context, owner Owner) (int64, error) {
	if owner.Type != models.TokenOwnerGroup {
		return entitlements.FreeTier().MonthlyFreeTokens, nil
	}

	var group models.Group
	err := r.db.WithContext(ctx).First(&group, owner.ID).Error
	if err != nil {
		// A vanished group still resets to the free allotment; the balance
		// row outlives nothing but is harmless to keep consistent.
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entitlements.FreeTier().MonthlyFreeTokens, nil
		}
		return 0, err
	}

	plan := entitlements.NormalizePlan(group.PlanName())
	return entitlements.LimitsFor(plan).MonthlyFreeTokens, nil
}

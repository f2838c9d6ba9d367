package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskhive/TaskHive/app/models"
	"gorm.io/gorm"
)

// Service owns all mutations of token balances. Debits prefer the paid pool,
// credits target a named pool, and every mutation appends an immutable
// TokenTransaction for auditing and history screens.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Credit increases the named pool by amount. The balance row is created
// lazily, so a credit for a fresh owner always succeeds.
func (s *Service) Credit(ctx context.Context, owner Owner, amount int64, pool Pool, reason, source string) (*models.TokenBalance, error) {
	if amount <= 0 || !pool.valid() {
		return nil, ErrInvalidAmount
	}

	return s.mutate(ctx, owner, func(b *models.TokenBalance) (*models.TokenTransaction, error) {
		switch pool {
		case PoolPaid:
			b.PaidBalance += amount
		default:
			b.FreeBalance += amount
		}
		return &models.TokenTransaction{
			OwnerType: owner.Type,
			OwnerID:   owner.ID,
			Kind:      models.TokenTxKindCredit,
			Pool:      string(pool),
			Amount:    amount,
			FreeAfter: b.FreeBalance,
			PaidAfter: b.PaidBalance,
			Reason:    strings.TrimSpace(reason),
			Source:    strings.TrimSpace(source),
		}, nil
	})
}

// CreditOnce behaves like Credit but keys the write to its source: when a
// credit carrying the same source already exists for the owner, nothing moves
// and applied is false. Payment confirmations are delivered at least once, so
// they go through here instead of Credit to make a redelivery acknowledgeable
// without a second grant.
func (s *Service) CreditOnce(ctx context.Context, owner Owner, amount int64, pool Pool, reason, source string) (*models.TokenBalance, bool, error) {
	source = strings.TrimSpace(source)
	if amount <= 0 || !pool.valid() || source == "" {
		return nil, false, ErrInvalidAmount
	}

	allotment, err := s.repo.MonthlyAllotment(ctx, owner)
	if err != nil {
		return nil, false, fmt.Errorf("resolve monthly allotment: %w", err)
	}

	return s.repo.MutateBalanceOnce(ctx, owner, source, func(b *models.TokenBalance) (*models.TokenTransaction, error) {
		s.resetIfDue(b, allotment)
		switch pool {
		case PoolPaid:
			b.PaidBalance += amount
		default:
			b.FreeBalance += amount
		}
		return &models.TokenTransaction{
			OwnerType: owner.Type,
			OwnerID:   owner.ID,
			Kind:      models.TokenTxKindCredit,
			Pool:      string(pool),
			Amount:    amount,
			FreeAfter: b.FreeBalance,
			PaidAfter: b.PaidBalance,
			Reason:    strings.TrimSpace(reason),
			Source:    source,
		}, nil
	})
}

// Debit satisfies amount from the paid pool first, then the free pool,
// atomically. A debit that cannot be fully covered fails with
// ErrInsufficientBalance and leaves both pools untouched.
func (s *Service) Debit(ctx context.Context, owner Owner, amount int64, reason, source string) (*models.TokenBalance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return s.mutate(ctx, owner, func(b *models.TokenBalance) (*models.TokenTransaction, error) {
		if b.Total() < amount {
			return nil, ErrInsufficientBalance
		}

		fromPaid := b.PaidBalance
		if fromPaid > amount {
			fromPaid = amount
		}
		fromFree := amount - fromPaid

		b.PaidBalance -= fromPaid
		b.FreeBalance -= fromFree
		b.TotalConsumed += amount
		b.MonthlyConsumed += amount

		pool := models.TokenPoolPaid
		if fromFree > 0 && fromPaid > 0 {
			pool = models.TokenPoolMixed
		} else if fromFree > 0 {
			pool = models.TokenPoolFree
		}

		return &models.TokenTransaction{
			OwnerType: owner.Type,
			OwnerID:   owner.ID,
			Kind:      models.TokenTxKindDebit,
			Pool:      pool,
			Amount:    -amount,
			FreeAfter: b.FreeBalance,
			PaidAfter: b.PaidBalance,
			Reason:    strings.TrimSpace(reason),
			Source:    strings.TrimSpace(source),
		}, nil
	})
}

// AdjustByAdmin applies a signed correction to a named pool, bypassing the
// debit pool-priority rule. Restricted to the admin surface; the acting admin
// and note land in the audit record. A delta that would drive the pool below
// zero fails with ErrInvalidAmount.
func (s *Service) AdjustByAdmin(ctx context.Context, owner Owner, amount int64, pool Pool, actingAdminID uint, note string) (*models.TokenBalance, error) {
	if amount == 0 || !pool.valid() {
		return nil, ErrInvalidAmount
	}

	return s.mutate(ctx, owner, func(b *models.TokenBalance) (*models.TokenTransaction, error) {
		switch pool {
		case PoolPaid:
			if b.PaidBalance+amount < 0 {
				return nil, ErrInvalidAmount
			}
			b.PaidBalance += amount
		default:
			if b.FreeBalance+amount < 0 {
				return nil, ErrInvalidAmount
			}
			b.FreeBalance += amount
		}

		admin := actingAdminID
		return &models.TokenTransaction{
			OwnerType:    owner.Type,
			OwnerID:      owner.ID,
			Kind:         models.TokenTxKindAdjust,
			Pool:         string(pool),
			Amount:       amount,
			FreeAfter:    b.FreeBalance,
			PaidAfter:    b.PaidBalance,
			Reason:       "admin_adjustment",
			Source:       "admin",
			ActingUserID: &admin,
			Note:         strings.TrimSpace(note),
		}, nil
	})
}

// Balance returns the owner's balance, creating the row on first access and
// applying any due monthly resets. The reset is a pure function of the stored
// state plus the clock, so it self-heals even when no scheduler ran.
func (s *Service) Balance(ctx context.Context, owner Owner) (*models.TokenBalance, error) {
	return s.mutate(ctx, owner, func(b *models.TokenBalance) (*models.TokenTransaction, error) {
		return nil, nil
	})
}

// mutate wraps every write with the lazy reset check so that expired periods
// are healed before the actual operation sees the balance.
func (s *Service) mutate(ctx context.Context, owner Owner, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, error) {
	allotment, err := s.repo.MonthlyAllotment(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolve monthly allotment: %w", err)
	}

	return s.repo.MutateBalance(ctx, owner, func(b *models.TokenBalance) (*models.TokenTransaction, error) {
		s.resetIfDue(b, allotment)
		return fn(b)
	})
}

// resetIfDue applies the monthly free-pool refill and the monthly consumption
// counter reset once their stored boundaries have elapsed.
func (s *Service) resetIfDue(b *models.TokenBalance, allotment int64) {
	now := s.now()
	if !b.FreeBalanceResetAt.After(now) {
		b.FreeBalance = allotment
		b.FreeBalanceResetAt = models.NextMonthStart(now)
	}
	if !b.MonthlyConsumedResetAt.After(now) {
		b.MonthlyConsumed = 0
		b.MonthlyConsumedResetAt = models.NextMonthStart(now)
	}
}

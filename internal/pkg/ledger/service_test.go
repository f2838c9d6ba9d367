package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskhive/TaskHive/app/models"
)

// fakeRepository keeps balances in memory and serializes mutations per owner
// the way the GORM repository does with row locks.
type fakeRepository struct {
	mu        sync.Mutex
	balances  map[Owner]*models.TokenBalance
	records   []*models.TokenTransaction
	allotment int64
	now       time.Time
}

func newFakeRepository(allotment int64, now time.Time) *fakeRepository {
	return &fakeRepository{
		balances:  make(map[Owner]*models.TokenBalance),
		allotment: allotment,
		now:       now,
	}
}

func (r *fakeRepository) MutateBalance(_ context.Context, owner Owner, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.balances[owner]
	if !ok {
		b = &models.TokenBalance{
			OwnerType:              owner.Type,
			OwnerID:                owner.ID,
			FreeBalanceResetAt:     r.now,
			MonthlyConsumedResetAt: r.now,
		}
		r.balances[owner] = b
	}

	snapshot := *b
	record, err := fn(&snapshot)
	if err != nil {
		return nil, err
	}
	*b = snapshot
	if record != nil {
		r.records = append(r.records, record)
	}
	out := *b
	return &out, nil
}

func (r *fakeRepository) MutateBalanceOnce(ctx context.Context, owner Owner, source string, fn func(b *models.TokenBalance) (*models.TokenTransaction, error)) (*models.TokenBalance, bool, error) {
	r.mu.Lock()
	for _, rec := range r.records {
		if rec.OwnerType == owner.Type && rec.OwnerID == owner.ID &&
			rec.Kind == models.TokenTxKindCredit && rec.Source == source {
			var out models.TokenBalance
			if b, ok := r.balances[owner]; ok {
				out = *b
			}
			r.mu.Unlock()
			return &out, false, nil
		}
	}
	r.mu.Unlock()

	balance, err := r.MutateBalance(ctx, owner, fn)
	if err != nil {
		return nil, false, err
	}
	return balance, true, nil
}

func (r *fakeRepository) MonthlyAllotment(context.Context, Owner) (int64, error) {
	return r.allotment, nil
}

func newTestService(repo *fakeRepository, now time.Time) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return now }
	return svc
}

func TestCreditRejectsInvalidAmounts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newFakeRepository(0, now), now)
	owner := UserOwner(1)

	for _, amount := range []int64{0, -5} {
		if _, err := svc.Credit(context.Background(), owner, amount, PoolPaid, "purchase", "stripe"); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Credit(%d) error = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if _, err := svc.Credit(context.Background(), owner, 10, Pool("bonus"), "purchase", "stripe"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected unknown pool to be rejected")
	}
}

func TestCreditCreatesBalanceLazily(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(50, now)
	svc := newTestService(repo, now)
	owner := GroupOwner(7)

	b, err := svc.Credit(context.Background(), owner, 100, PoolPaid, "package_purchase", "stripe")
	if err != nil {
		t.Fatalf("unexpected credit error: %v", err)
	}
	if b.PaidBalance != 100 {
		t.Fatalf("paid balance = %d, want 100", b.PaidBalance)
	}
	// Lazy creation also granted the initial free allotment.
	if b.FreeBalance != 50 {
		t.Fatalf("free balance = %d, want 50", b.FreeBalance)
	}
	if len(repo.records) != 1 || repo.records[0].Kind != models.TokenTxKindCredit {
		t.Fatalf("expected one credit audit record, got %+v", repo.records)
	}
}

func TestDebitPrefersPaidPool(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(0, now)
	svc := newTestService(repo, now)
	owner := UserOwner(2)

	if _, err := svc.Credit(context.Background(), owner, 30, PoolFree, "grant", "test"); err != nil {
		t.Fatalf("credit free: %v", err)
	}
	if _, err := svc.Credit(context.Background(), owner, 20, PoolPaid, "purchase", "test"); err != nil {
		t.Fatalf("credit paid: %v", err)
	}

	b, err := svc.Debit(context.Background(), owner, 25, "avatar_generation", "ai")
	if err != nil {
		t.Fatalf("unexpected debit error: %v", err)
	}
	if b.PaidBalance != 0 || b.FreeBalance != 25 {
		t.Fatalf("after debit free=%d paid=%d, want 25/0", b.FreeBalance, b.PaidBalance)
	}
	if b.TotalConsumed != 25 || b.MonthlyConsumed != 25 {
		t.Fatalf("consumed counters = %d/%d, want 25/25", b.TotalConsumed, b.MonthlyConsumed)
	}

	last := repo.records[len(repo.records)-1]
	if last.Kind != models.TokenTxKindDebit || last.Amount != -25 || last.Pool != models.TokenPoolMixed {
		t.Fatalf("unexpected debit audit record: %+v", last)
	}
}

func TestDebitAtomicOnInsufficientBalance(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(0, now)
	svc := newTestService(repo, now)
	owner := UserOwner(3)

	if _, err := svc.Credit(context.Background(), owner, 100, PoolFree, "grant", "test"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if _, err := svc.Debit(context.Background(), owner, 150, "avatar_generation", "ai"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("debit error = %v, want ErrInsufficientBalance", err)
	}

	b, err := svc.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.FreeBalance != 100 || b.PaidBalance != 0 {
		t.Fatalf("balances after failed debit = %d/%d, want 100/0", b.FreeBalance, b.PaidBalance)
	}
	if b.TotalConsumed != 0 || b.MonthlyConsumed != 0 {
		t.Fatalf("consumed counters changed on failed debit: %+v", b)
	}
}

func TestBalancesNeverNegative(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(10, now)
	svc := newTestService(repo, now)
	owner := UserOwner(4)
	ctx := context.Background()

	ops := []func() error{
		func() error { _, err := svc.Credit(ctx, owner, 5, PoolPaid, "a", "t"); return err },
		func() error { _, err := svc.Debit(ctx, owner, 12, "b", "t"); return err },
		func() error { _, err := svc.Debit(ctx, owner, 500, "c", "t"); return err },
		func() error { _, err := svc.AdjustByAdmin(ctx, owner, -3, PoolFree, 1, "oops"); return err },
		func() error { _, err := svc.AdjustByAdmin(ctx, owner, -999, PoolPaid, 1, "too much"); return err },
	}
	for i, op := range ops {
		_ = op() // failures are expected for some steps

		b, err := svc.Balance(ctx, owner)
		if err != nil {
			t.Fatalf("balance after op %d: %v", i, err)
		}
		if b.FreeBalance < 0 || b.PaidBalance < 0 {
			t.Fatalf("negative pool after op %d: free=%d paid=%d", i, b.FreeBalance, b.PaidBalance)
		}
	}
}

func TestAdjustByAdmin(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(0, now)
	svc := newTestService(repo, now)
	owner := GroupOwner(5)
	ctx := context.Background()

	if _, err := svc.AdjustByAdmin(ctx, owner, 40, PoolPaid, 9, "goodwill"); err != nil {
		t.Fatalf("positive adjust: %v", err)
	}
	if _, err := svc.AdjustByAdmin(ctx, owner, -15, PoolPaid, 9, "correction"); err != nil {
		t.Fatalf("negative adjust: %v", err)
	}
	if _, err := svc.AdjustByAdmin(ctx, owner, -100, PoolPaid, 9, "overdraw"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overdraw adjust to fail with ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.AdjustByAdmin(ctx, owner, 0, PoolPaid, 9, "noop"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected zero adjust to fail with ErrInvalidAmount, got %v", err)
	}

	b, err := svc.Balance(ctx, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.PaidBalance != 25 {
		t.Fatalf("paid balance = %d, want 25", b.PaidBalance)
	}

	last := repo.records[len(repo.records)-1]
	if last.Kind != models.TokenTxKindAdjust || last.ActingUserID == nil || *last.ActingUserID != 9 {
		t.Fatalf("adjust audit record missing acting admin: %+v", last)
	}
}

func TestFreePoolResetIsLazy(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(50, start)
	svc := newTestService(repo, start)
	owner := UserOwner(6)
	ctx := context.Background()

	if _, err := svc.Debit(ctx, owner, 50, "spend_all", "test"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	b, _ := svc.Balance(ctx, owner)
	if b.FreeBalance != 0 {
		t.Fatalf("free balance = %d, want 0", b.FreeBalance)
	}

	// Next calendar month: a plain read heals the pool and the counter.
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC) }
	b, err := svc.Balance(ctx, owner)
	if err != nil {
		t.Fatalf("balance after boundary: %v", err)
	}
	if b.FreeBalance != 50 {
		t.Fatalf("free balance after reset = %d, want 50", b.FreeBalance)
	}
	if b.MonthlyConsumed != 0 {
		t.Fatalf("monthly consumed after reset = %d, want 0", b.MonthlyConsumed)
	}
	if b.TotalConsumed != 50 {
		t.Fatalf("total consumed = %d, want 50 (monotonic)", b.TotalConsumed)
	}
	if got, want := b.FreeBalanceResetAt, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next reset boundary = %v, want %v", got, want)
	}

	// A second read inside the same period is a no-op.
	if _, err := svc.Balance(ctx, owner); err != nil {
		t.Fatalf("second balance read: %v", err)
	}
	b, _ = svc.Balance(ctx, owner)
	if b.FreeBalance != 50 {
		t.Fatalf("reset applied twice, free balance = %d", b.FreeBalance)
	}
}

func TestCreditOnceIsIdempotentPerSource(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepository(0, now)
	svc := newTestService(repo, now)
	owner := UserOwner(4)
	source := "stripe:cs_test_123"

	b, applied, err := svc.CreditOnce(context.Background(), owner, 500, PoolPaid, "token_purchase", source)
	if err != nil {
		t.Fatalf("first CreditOnce: %v", err)
	}
	if !applied || b.PaidBalance != 500 {
		t.Fatalf("applied=%v paid=%d, want true and 500", applied, b.PaidBalance)
	}

	// A redelivered confirmation acknowledges without a second grant.
	b, applied, err = svc.CreditOnce(context.Background(), owner, 500, PoolPaid, "token_purchase", source)
	if err != nil {
		t.Fatalf("second CreditOnce: %v", err)
	}
	if applied {
		t.Fatalf("replayed source must not apply again")
	}
	if b.PaidBalance != 500 {
		t.Fatalf("paid = %d after replay, want 500", b.PaidBalance)
	}
	if len(repo.records) != 1 {
		t.Fatalf("recorded %d transactions, want 1", len(repo.records))
	}

	// A different session is a different purchase.
	b, applied, err = svc.CreditOnce(context.Background(), owner, 200, PoolPaid, "token_purchase", "stripe:cs_test_456")
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v for fresh source", applied, err)
	}
	if b.PaidBalance != 700 {
		t.Fatalf("paid = %d, want 700", b.PaidBalance)
	}
}

func TestCreditOnceRequiresSource(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newFakeRepository(0, now), now)

	if _, _, err := svc.CreditOnce(context.Background(), UserOwner(4), 500, PoolPaid, "token_purchase", "  "); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("CreditOnce without a source = %v, want ErrInvalidAmount", err)
	}
}

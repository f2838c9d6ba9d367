package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskhive/TaskHive/app/models"
	"github.com/taskhive/TaskHive/internal/pkg/entitlements"
)

func seedPaidGroup(repo *fakeRepository, groupID uint, subID string, status string, endsAt *time.Time) {
	g := freeGroup(groupID)
	plan := string(entitlements.PlanFamily)
	limits := entitlements.LimitsFor(entitlements.PlanFamily)
	g.SubscriptionActive = true
	g.SubscriptionPlan = &plan
	g.MaxMembers = limits.MaxMembers
	g.MaxGroups = limits.MaxGroups
	repo.groups[groupID] = g

	last := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.subscriptions[subKey{models.BillingProviderStripe, subID}] = &models.BillingSubscription{
		GroupID:                groupID,
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: subID,
		PlanRef:                "price_family_month",
		Status:                 status,
		EndsAt:                 endsAt,
		LastEventAt:            &last,
	}
}

func TestSweepRevertsLapsedGroups(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	endsAt := now.Add(-time.Hour)
	seedPaidGroup(repo, 10, "sub_1", models.BillingStatusCanceled, &endsAt)
	svc := newTestBillingService(repo, now)

	stats, err := svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Checked != 1 || stats.Expired != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	g := repo.groups[10]
	free := entitlements.FreeTier()
	if g.SubscriptionActive || g.SubscriptionPlan != nil || g.MaxMembers != free.MaxMembers {
		t.Fatalf("group not reverted to free tier: %+v", g)
	}
}

func TestSweepMatchesReconcilerOutcome(t *testing.T) {
	// The lost-webhook path and the delivered-webhook path must land the
	// group in identical entitlement state.
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	endsAt := now.Add(-time.Hour)

	viaSweep := newFakeRepository()
	seedPaidGroup(viaSweep, 10, "sub_1", models.BillingStatusCanceled, &endsAt)
	if _, err := newTestBillingService(viaSweep, now).RunSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	viaEvent := newFakeRepository()
	seedPaidGroup(viaEvent, 10, "sub_1", models.BillingStatusCanceled, &endsAt)
	ev := activeEvent(10, now)
	ev.Status = models.BillingStatusCanceled
	ev.EndsAt = &endsAt
	if err := newTestBillingService(viaEvent, now).ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("event: %v", err)
	}

	a, b := viaSweep.groups[10], viaEvent.groups[10]
	if a.SubscriptionActive != b.SubscriptionActive || a.PlanName() != b.PlanName() ||
		a.MaxMembers != b.MaxMembers || a.MaxGroups != b.MaxGroups {
		t.Fatalf("sweep and reconciler diverged:\nsweep: %+v\nevent: %+v", a, b)
	}
}

func TestSweepSkipsGroupsAlreadyOnFreeTier(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	endsAt := now.Add(-time.Hour)
	seedPaidGroup(repo, 10, "sub_1", models.BillingStatusCanceled, &endsAt)

	// First sweep reverts, second finds nothing left to write.
	svc := newTestBillingService(repo, now)
	if _, err := svc.RunSweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	stats, err := svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if stats.Checked != 1 || stats.Expired != 0 {
		t.Fatalf("second sweep stats = %+v, want no-op", stats)
	}
}

// staleListRepository returns a fixed candidate list regardless of live state,
// standing in for a listing that raced a fresh renewal event.
type staleListRepository struct {
	*fakeRepository
	listed []models.BillingSubscription
}

func (r *staleListRepository) ListHardExpiryCandidates(_ context.Context, _ time.Time) ([]models.BillingSubscription, error) {
	return r.listed, nil
}

func TestSweepRechecksUnderLock(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	inner := newFakeRepository()
	// Live state is active again; the listing below still claims canceled.
	seedPaidGroup(inner, 10, "sub_1", models.BillingStatusActive, nil)

	endsAt := now.Add(-time.Hour)
	repo := &staleListRepository{
		fakeRepository: inner,
		listed: []models.BillingSubscription{{
			GroupID:                10,
			Provider:               models.BillingProviderStripe,
			ProviderSubscriptionID: "sub_1",
			Status:                 models.BillingStatusCanceled,
			EndsAt:                 &endsAt,
		}},
	}

	stats, err := newTestBillingService(repo, now).RunSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Expired != 0 {
		t.Fatalf("revived subscription was expired anyway: %+v", stats)
	}
	if !inner.groups[10].SubscriptionActive {
		t.Fatalf("revived group lost its entitlements")
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	endsAt := now.Add(-time.Hour)
	seedPaidGroup(repo, 10, "sub_1", models.BillingStatusCanceled, &endsAt)
	seedPaidGroup(repo, 20, "sub_2", models.BillingStatusUnpaid, &endsAt)
	repo.failGroups[10] = errors.New("deadlock")

	stats, err := newTestBillingService(repo, now).RunSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Checked != 2 || stats.Expired != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if repo.groups[20].SubscriptionActive {
		t.Fatalf("healthy group 20 was not swept after group 10 failed")
	}
}

func TestSweepFailedSaveIsNotCountedExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	endsAt := now.Add(-time.Hour)
	seedPaidGroup(repo, 10, "sub_1", models.BillingStatusCanceled, &endsAt)
	repo.failSaves[10] = errors.New("lock wait timeout")

	stats, err := newTestBillingService(repo, now).RunSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A group whose write failed lands in exactly one bucket.
	if stats.Checked != 1 || stats.Expired != 0 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 checked, 0 expired, 1 failed", stats)
	}
}

package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/taskhive/TaskHive/app/models"
)

// RunSweep is the scheduled fallback for lost webhook deliveries. It re-derives
// entitlements straight from the mirrored billing records: every subscription
// in a canceled state whose grace period has lapsed gets the exact same
// free-tier reset the reconciler would have applied, so outcomes converge no
// matter whether the triggering event ever arrived.
//
// One group's failure never aborts the run; it is logged and the sweep moves
// on. Groups already on the free tier are skipped without a write.
func (s *Service) RunSweep(ctx context.Context) (SweepStats, error) {
	now := s.now()
	candidates, err := s.repo.ListHardExpiryCandidates(ctx, now)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list hard-expiry candidates: %w", err)
	}

	stats := SweepStats{Checked: len(candidates)}
	for _, candidate := range candidates {
		err := s.repo.WithGroupLock(ctx, candidate.GroupID, func(tx TxRepository, group *models.Group) error {
			// Re-check under the lock: a fresher event may have revived the
			// subscription between the listing and now.
			mirror, err := tx.GetSubscription(candidate.Provider, candidate.ProviderSubscriptionID)
			if err != nil {
				return err
			}
			if mirror == nil || !mirror.HardExpired(now) {
				return nil
			}
			if !applyFreeTier(group) {
				return nil
			}
			if err := tx.SaveGroup(group); err != nil {
				return err
			}
			log.Infof("[Sweep] Group %d reverted to free tier (subscription %s, status %s)",
				group.ID, mirror.ProviderSubscriptionID, mirror.Status)
			stats.Expired++
			return nil
		})
		if err != nil {
			stats.Failed++
			log.Errorf("[Sweep] Group %d skipped: %v", candidate.GroupID, err)
		}
	}

	log.Infof("[Sweep] Done: %d checked, %d expired, %d failed", stats.Checked, stats.Expired, stats.Failed)
	return stats, nil
}

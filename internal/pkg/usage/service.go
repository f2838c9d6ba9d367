// Package usage enforces the free-tier monthly quota on group task creation.
// Groups with an active subscription bypass the quota entirely; everyone else
// gets a counter that resets lazily on the calendar-month boundary, so the
// quota stays correct even when no scheduler ever runs.
package usage

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/taskhive/TaskHive/app/models"
	"github.com/taskhive/TaskHive/internal/pkg/metrics/counter"
)

// Service is the group usage counter.
type Service struct {
	repo  Repository
	now   func() time.Time
	track func(groupID, creatorID uint)
}

// NewService creates a usage counter service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, track: trackTaskCreated}
}

// trackTaskCreated bumps the pending lifetime activity counters in Redis.
// Best effort: a counter failure is logged and never fails the creation.
func trackTaskCreated(groupID, creatorID uint) {
	if err := counter.AddGroupTaskCreated(groupID); err != nil {
		log.Warnf("[Usage] Failed to count task creation for group %d: %v", groupID, err)
	}
	if creatorID == 0 {
		return
	}
	if err := counter.AddUserTaskCreated(creatorID); err != nil {
		log.Warnf("[Usage] Failed to count task creation for user %d: %v", creatorID, err)
	}
}

// CanCreateGroupTask reports whether the group may create another group task
// this month. Active subscribers are unlimited. The check is a pure function
// of the stored counter and the clock: an elapsed reset boundary counts as a
// fresh month even before RecordGroupTaskCreation has persisted the reset.
func (s *Service) CanCreateGroupTask(ctx context.Context, groupID uint) (bool, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if group.SubscriptionActive {
		return true, nil
	}
	count := group.GroupTaskCountCurrentMonth
	if resetDue(group, s.now()) {
		count = 0
	}
	return count < group.FreeGroupTaskLimit, nil
}

// RecordGroupTaskCreation counts one group task creation against the monthly
// quota and bumps the lifetime activity counters for the group and the
// creating user. The quota increment is a no-op for active subscribers. The
// lazy reset and the increment happen under the same row lock so a reset can
// never swallow a concurrent increment.
func (s *Service) RecordGroupTaskCreation(ctx context.Context, groupID, creatorID uint) error {
	err := s.repo.MutateGroup(ctx, groupID, func(group *models.Group) error {
		if group.SubscriptionActive {
			return nil
		}
		now := s.now()
		if resetDue(group, now) {
			group.GroupTaskCountCurrentMonth = 0
			group.GroupTaskCountResetAt = models.NextMonthStart(now)
		}
		group.GroupTaskCountCurrentMonth++
		return nil
	})
	if err != nil {
		return err
	}
	s.track(groupID, creatorID)
	return nil
}

// resetDue reports whether the counter's month has rolled over. A zero reset
// stamp means the group has never been counted against and starts fresh.
func resetDue(group *models.Group, now time.Time) bool {
	if group.GroupTaskCountResetAt.IsZero() {
		return true
	}
	return !now.Before(group.GroupTaskCountResetAt)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/vdcapital/billing/app/models"
)

const (
	SweepLockKey = "billing:sweep:lock"
	SweepLockTTL = 5 * time.Minute
)

// Locker is a best-effort distributed mutex. release is only non-nil when the
// lock was acquired.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// ProcessDueUpgrades applies every pending upgrade whose scheduled start has
// passed. Records are independent: a failure is counted and logged, the rest
// carry on. Upgrades of the same user are applied in scheduled order.
func (s *Service) ProcessDueUpgrades(ctx context.Context) (SweepResult, error) {
	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, SweepLockKey, SweepLockTTL)
		switch {
		case err != nil:
			log.Warnf("[Sweep] Lock unavailable, continuing without it: %v", err)
		case !acquired:
			return SweepResult{}, ErrSweepInProgress
		default:
			defer release()
		}
	}

	now := s.now().UTC()
	upgrades, err := s.repo.ListDueUpgrades(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	result := SweepResult{Total: len(upgrades)}
	if len(upgrades) == 0 {
		log.Infof("[Sweep] No due upgrades")
		return result, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, batch := range groupByUser(upgrades) {
		g.Go(func() error {
			for i := range batch {
				outcome := s.applyUpgrade(ctx, &batch[i], now)
				mu.Lock()
				switch outcome {
				case upgradeApplied:
					result.Processed++
				case upgradeSkipped:
					result.Skipped++
				default:
					result.Errors++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("[Sweep] Finished: processed=%d errors=%d skipped=%d total=%d",
		result.Processed, result.Errors, result.Skipped, result.Total)
	return result, nil
}

type upgradeOutcome int

const (
	upgradeApplied upgradeOutcome = iota
	upgradeSkipped
	upgradeFailed
)

func (s *Service) applyUpgrade(ctx context.Context, u *models.PendingUpgrade, now time.Time) upgradeOutcome {
	if u.NewPlanName == "" {
		if p, ok := LookupPlan(u.NewPlanCode); ok {
			u.NewPlanName = p.Name
		}
	}
	start := u.ScheduledStartDate.UTC()
	window := UpgradeWindow{Start: start, End: PeriodEnd(u.NewPlanCode, start)}

	err := s.repo.ApplyUpgrade(ctx, u, window, now)
	switch {
	case err == nil:
		log.Infof("[Sweep] Upgrade %s applied: user %s now on %s until %s",
			u.ID, u.UserID, u.NewPlanCode, window.End.Format(time.RFC3339))
		return upgradeApplied
	case errors.Is(err, ErrUpgradeAlreadyProcessed):
		log.Infof("[Sweep] Upgrade %s was processed by another run", u.ID)
		return upgradeSkipped
	default:
		log.Errorf("[Sweep] Upgrade %s for user %s failed: %v", u.ID, u.UserID, err)
		return upgradeFailed
	}
}

// groupByUser splits upgrades into per-user batches, keeping input order both
// across and within batches.
func groupByUser(upgrades []models.PendingUpgrade) [][]models.PendingUpgrade {
	index := make(map[string]int)
	var batches [][]models.PendingUpgrade
	for _, u := range upgrades {
		i, ok := index[u.UserID]
		if !ok {
			i = len(batches)
			index[u.UserID] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], u)
	}
	return batches
}

package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdcapital/billing/app/models"
	"github.com/vdcapital/billing/internal/pkg/billing"
	"github.com/vdcapital/billing/internal/pkg/billing/billingtest"
)

func activeSub(userID string) models.Subscription {
	start := fixedNow.AddDate(0, -1, 0)
	end := fixedNow.AddDate(0, 0, 1)
	return models.Subscription{
		UserID:             userID,
		Provider:           models.BillingProviderPaystack,
		Status:             models.SubscriptionStatusActive,
		PlanCode:           billing.PlanCodeMonthly,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}
}

func TestProcessDueUpgrades_AppliesDueAndLeavesFuture(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.PutSubscription(activeSub("user-1"))
	repo.PutSubscription(activeSub("user-2"))
	scheduled := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeSixMonth, NewPlanName: "6 Months", ScheduledStartDate: scheduled})
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-2", UserID: "user-2", NewPlanCode: billing.PlanCodeTwelveMonth, ScheduledStartDate: fixedNow.Add(time.Hour)})
	svc := newTestService(repo, fixedNow)

	result, err := svc.ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.SweepResult{Processed: 1, Total: 1}, result)

	sub, _ := repo.Subscription("user-1")
	assert.Equal(t, billing.PlanCodeSixMonth, sub.PlanCode)
	assert.Equal(t, "6 Months", sub.PlanName)
	assert.Equal(t, scheduled, *sub.CurrentPeriodStart)
	assert.Equal(t, time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC), *sub.CurrentPeriodEnd)

	up, _ := repo.Upgrade("up-1")
	assert.Equal(t, models.PendingUpgradeStatusProcessed, up.Status)
	require.NotNil(t, up.ProcessedAt)
	assert.Equal(t, fixedNow, *up.ProcessedAt)

	future, _ := repo.Upgrade("up-2")
	assert.Equal(t, models.PendingUpgradeStatusPending, future.Status)
	untouched, _ := repo.Subscription("user-2")
	assert.Equal(t, billing.PlanCodeMonthly, untouched.PlanCode)
}

func TestProcessDueUpgrades_SecondRunIsNoop(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.PutSubscription(activeSub("user-1"))
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow})
	svc := newTestService(repo, fixedNow)

	_, err := svc.ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	before, _ := repo.Subscription("user-1")

	result, err := svc.ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.SweepResult{}, result)

	after, _ := repo.Subscription("user-1")
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"up-1"}, repo.Applied)
}

func TestProcessDueUpgrades_FillsPlanNameFromCatalog(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.PutSubscription(activeSub("user-1"))
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeTwelveMonth, ScheduledStartDate: fixedNow})

	_, err := newTestService(repo, fixedNow).ProcessDueUpgrades(context.Background())
	require.NoError(t, err)

	plan, ok := billing.LookupPlan(billing.PlanCodeTwelveMonth)
	require.True(t, ok)
	sub, _ := repo.Subscription("user-1")
	assert.Equal(t, plan.Name, sub.PlanName)
}

func TestProcessDueUpgrades_FailureIsolation(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.PutSubscription(activeSub("user-1"))
	repo.PutSubscription(activeSub("user-3"))
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow.Add(-3 * time.Hour)})
	// No subscription row for user-2.
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-2", UserID: "user-2", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow.Add(-2 * time.Hour)})
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-3", UserID: "user-3", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow.Add(-time.Hour)})
	svc := newTestService(repo, fixedNow).WithSweepConcurrency(3)

	result, err := svc.ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.SweepResult{Processed: 2, Errors: 1, Total: 3}, result)

	failed, _ := repo.Upgrade("up-2")
	assert.Equal(t, models.PendingUpgradeStatusPending, failed.Status)
	assert.ElementsMatch(t, []string{"up-1", "up-3"}, repo.Applied)
}

func TestProcessDueUpgrades_InjectedErrorCountsAsError(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.PutSubscription(activeSub("user-1"))
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow})
	repo.FailApplyFor["up-1"] = errors.New("deadlock found")

	result, err := newTestService(repo, fixedNow).ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.SweepResult{Errors: 1, Total: 1}, result)
}

func TestProcessDueUpgrades_LostRaceIsSkipped(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.PutSubscription(activeSub("user-1"))
	repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow})
	repo.FailApplyFor["up-1"] = billing.ErrUpgradeAlreadyProcessed

	result, err := newTestService(repo, fixedNow).ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.SweepResult{Skipped: 1, Total: 1}, result)
}

func TestProcessDueUpgrades_SameUserRunsInScheduledOrder(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	for i := 0; i < 5; i++ {
		user := fmt.Sprintf("user-%d", i)
		repo.PutSubscription(activeSub(user))
		repo.PutUpgrade(models.PendingUpgrade{ID: user + "-a", UserID: user, NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow.Add(-2 * time.Hour)})
		repo.PutUpgrade(models.PendingUpgrade{ID: user + "-b", UserID: user, NewPlanCode: billing.PlanCodeTwelveMonth, ScheduledStartDate: fixedNow.Add(-time.Hour)})
	}
	svc := newTestService(repo, fixedNow).WithSweepConcurrency(4)

	result, err := svc.ProcessDueUpgrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.SweepResult{Processed: 10, Total: 10}, result)

	position := make(map[string]int, len(repo.Applied))
	for i, id := range repo.Applied {
		position[id] = i
	}
	for i := 0; i < 5; i++ {
		user := fmt.Sprintf("user-%d", i)
		assert.Less(t, position[user+"-a"], position[user+"-b"], user)
		sub, _ := repo.Subscription(user)
		assert.Equal(t, billing.PlanCodeTwelveMonth, sub.PlanCode, user)
	}
}

func TestProcessDueUpgrades_ListFailure(t *testing.T) {
	repo := billingtest.NewMemoryRepository()
	repo.FailListDue = errors.New("db down")

	_, err := newTestService(repo, fixedNow).ProcessDueUpgrades(context.Background())
	assert.ErrorIs(t, err, billing.ErrPersistence)
}

func TestProcessDueUpgrades_Locking(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		locker := &billingtest.StubLocker{Held: true}
		svc := newTestService(billingtest.NewMemoryRepository(), fixedNow).WithLocker(locker)

		_, err := svc.ProcessDueUpgrades(context.Background())
		assert.ErrorIs(t, err, billing.ErrSweepInProgress)
	})

	t.Run("acquired and released", func(t *testing.T) {
		locker := &billingtest.StubLocker{}
		svc := newTestService(billingtest.NewMemoryRepository(), fixedNow).WithLocker(locker)

		_, err := svc.ProcessDueUpgrades(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, locker.Released)
		assert.False(t, locker.Held)
	})

	t.Run("lock backend down still sweeps", func(t *testing.T) {
		repo := billingtest.NewMemoryRepository()
		repo.PutSubscription(activeSub("user-1"))
		repo.PutUpgrade(models.PendingUpgrade{ID: "up-1", UserID: "user-1", NewPlanCode: billing.PlanCodeSixMonth, ScheduledStartDate: fixedNow})
		locker := &billingtest.StubLocker{Err: errors.New("dial tcp: connection refused")}
		svc := newTestService(repo, fixedNow).WithLocker(locker)

		result, err := svc.ProcessDueUpgrades(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)
	})
}

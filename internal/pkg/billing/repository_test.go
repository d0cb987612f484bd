package billing_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vdcapital/billing/app/models"
	"github.com/vdcapital/billing/internal/pkg/billing"
	"github.com/vdcapital/billing/internal/pkg/database"
)

// openTestDB connects to the MySQL named by BILLING_TEST_DSN
// (user:pass@tcp(host:port)/db) with the production connection options and
// skips the test when it is unset or unreachable.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("BILLING_TEST_DSN")
	if dsn == "" {
		t.Skip("BILLING_TEST_DSN not set")
	}
	db, err := database.Open(database.WithParams(dsn))
	if err != nil {
		t.Skipf("mysql unavailable: %v", err)
	}
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func TestGormRepository_UpsertAndCancel(t *testing.T) {
	db := openTestDB(t)
	repo := billing.NewRepository(db)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()
	t.Cleanup(func() { db.Where("user_id = ?", userID).Delete(&models.Subscription{}) })

	now := time.Now().UTC().Truncate(time.Second)
	end := now.AddDate(0, 1, 0)
	sub := &models.Subscription{
		UserID: userID, Provider: "paystack", Status: models.SubscriptionStatusActive,
		PlanCode: billing.PlanCodeMonthly, ProviderPaymentID: "ref_1",
		CurrentPeriodStart: &now, CurrentPeriodEnd: &end, UpdatedAt: now,
	}
	require.NoError(t, repo.UpsertSubscription(ctx, sub))
	firstID := sub.ID

	replay := *sub
	replay.ID = 0
	replay.ProviderPaymentID = "ref_2"
	require.NoError(t, repo.UpsertSubscription(ctx, &replay))
	assert.Equal(t, firstID, replay.ID)

	stored, err := repo.GetSubscriptionByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ref_2", stored.ProviderPaymentID)

	n, err := repo.UpdateStatusByUserID(ctx, userID, models.SubscriptionStatusCancelled, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetSubscriptionByUserID(ctx, "it-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestGormRepository_ApplyUpgradeRollsBackWithoutSubscription(t *testing.T) {
	db := openTestDB(t)
	repo := billing.NewRepository(db)
	ctx := context.Background()

	up := models.PendingUpgrade{
		UserID:             "it-" + uuid.NewString(),
		NewPlanCode:        billing.PlanCodeSixMonth,
		ScheduledStartDate: time.Now().UTC().Add(-time.Minute).Truncate(time.Second),
	}
	require.NoError(t, db.Create(&up).Error)
	t.Cleanup(func() { db.Delete(&models.PendingUpgrade{}, "id = ?", up.ID) })

	now := time.Now().UTC()
	window := billing.UpgradeWindow{Start: up.ScheduledStartDate, End: billing.PeriodEnd(up.NewPlanCode, up.ScheduledStartDate)}
	err := repo.ApplyUpgrade(ctx, &up, window, now)
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

	var reloaded models.PendingUpgrade
	require.NoError(t, db.First(&reloaded, "id = ?", up.ID).Error)
	assert.Equal(t, models.PendingUpgradeStatusPending, reloaded.Status)
}

func TestGormRepository_WebhookEventDeliveries(t *testing.T) {
	db := openTestDB(t)
	repo := billing.NewRepository(db)
	ctx := context.Background()
	eventID := "it-" + uuid.NewString()
	t.Cleanup(func() { db.Where("provider_event_id = ?", eventID).Delete(&models.BillingWebhookEvent{}) })

	newEvent := func() *models.BillingWebhookEvent {
		return &models.BillingWebhookEvent{Provider: "paystack", ProviderEventID: eventID, EventType: "charge.success", PayloadRaw: "{}", Deliveries: 1}
	}

	created, first, err := repo.CreateWebhookEventIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.True(t, created)

	created, second, err := repo.CreateWebhookEventIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Deliveries)

	created, third, err := repo.CreateWebhookEventIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 3, third.Deliveries)

	require.NoError(t, repo.MarkWebhookProcessed(ctx, first.ID, ""))
}

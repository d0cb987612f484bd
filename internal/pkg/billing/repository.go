package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vdcapital/billing/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	UpdateStatusByUserID(ctx context.Context, userID, status string, at time.Time) (int64, error)
	UpdateStatusByProviderSubscriptionID(ctx context.Context, provider, providerSubscriptionID, status string, at time.Time) (int64, error)
	ListDueUpgrades(ctx context.Context, now time.Time) ([]models.PendingUpgrade, error)
	ApplyUpgrade(ctx context.Context, upgrade *models.PendingUpgrade, window UpgradeWindow, now time.Time) error
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"status",
			"plan_code",
			"plan_name",
			"provider_subscription_id",
			"provider_customer_id",
			"provider_payment_id",
			"current_period_start",
			"current_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Reload into a fresh value: on the update path the driver's insert id is
	// not the stored row's id, so sub.ID cannot be used as a condition.
	var stored models.Subscription
	if err := db.Where("user_id = ?", sub.UserID).First(&stored).Error; err != nil {
		return err
	}
	*sub = stored
	return nil
}

func (r *gormRepository) GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpdateStatusByUserID(ctx context.Context, userID, status string, at time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"status": status, "updated_at": at})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) UpdateStatusByProviderSubscriptionID(ctx context.Context, provider, providerSubscriptionID, status string, at time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Updates(map[string]interface{}{"status": status, "updated_at": at})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) ListDueUpgrades(ctx context.Context, now time.Time) ([]models.PendingUpgrade, error) {
	var upgrades []models.PendingUpgrade
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_start_date <= ?", models.PendingUpgradeStatusPending, now).
		Order("scheduled_start_date ASC, id ASC").
		Find(&upgrades).Error
	return upgrades, err
}

// ApplyUpgrade writes the new plan onto the user's subscription and flips the
// upgrade to processed in a single transaction, so a crash between the two
// writes cannot leave the upgrade pending after the plan changed.
func (r *gormRepository) ApplyUpgrade(ctx context.Context, upgrade *models.PendingUpgrade, window UpgradeWindow, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PendingUpgrade{}).
			Where("id = ? AND status = ?", upgrade.ID, models.PendingUpgradeStatusPending).
			Updates(map[string]interface{}{
				"status":       models.PendingUpgradeStatusProcessed,
				"processed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUpgradeAlreadyProcessed
		}

		res = tx.Model(&models.Subscription{}).
			Where("user_id = ?", upgrade.UserID).
			Updates(map[string]interface{}{
				"plan_code":            upgrade.NewPlanCode,
				"plan_name":            upgrade.NewPlanName,
				"current_period_start": window.Start,
				"current_period_end":   window.End,
				"status":               models.SubscriptionStatusActive,
				"updated_at":           now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSubscriptionNotFound
		}
		return nil
	})
}

// CreateWebhookEventIfNotExists inserts the delivery or, on a redelivery, bumps
// the counter of the existing row in the same statement. MySQL reports one
// affected row for an insert and two for an update that changed the row;
// deliveries always changes, so the count holds with clientFoundRows too.
func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"deliveries": gorm.Expr("deliveries + ?", 1),
		}),
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	created := tx.RowsAffected == 1

	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

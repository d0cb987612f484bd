package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderPayFast  = "payfast"
	BillingProviderPaystack = "paystack"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusPastDue   = "past_due"
)

// Subscription is the single billing record per user. It is upserted by
// verified webhooks and by the upgrade sweep, never appended.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_subscriptions_user" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;default:'';index" json:"provider"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	PlanCode               string     `gorm:"type:varchar(64);not null;default:''" json:"plan_code"`
	PlanName               string     `gorm:"type:varchar(191);not null;default:''" json:"plan_name"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"provider_customer_id"`
	ProviderPaymentID      string     `gorm:"type:varchar(191);not null;default:''" json:"provider_payment_id"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitled reports whether the subscription grants access at the given
// time. It only reads the row; lapsed rows keep their stored status.
func (s *Subscription) IsEntitled(now time.Time) bool {
	if s == nil || s.Status != SubscriptionStatusActive {
		return false
	}
	if s.CurrentPeriodEnd == nil {
		return false
	}
	return now.Before(*s.CurrentPeriodEnd)
}

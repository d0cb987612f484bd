package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PendingUpgradeStatusPending   = "pending"
	PendingUpgradeStatusProcessed = "processed"
)

// PendingUpgrade is a plan change scheduled to take effect at a later date.
// It is consumed exactly once by the upgrade sweep.
type PendingUpgrade struct {
	ID                 string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID             string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	NewPlanCode        string     `gorm:"type:varchar(64);not null" json:"new_plan_code"`
	NewPlanName        string     `gorm:"type:varchar(191);not null;default:''" json:"new_plan_name"`
	ScheduledStartDate time.Time  `gorm:"type:timestamp;not null;index:idx_pending_upgrades_due,priority:2" json:"scheduled_start_date"`
	Status             string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_pending_upgrades_due,priority:1" json:"status"`
	ProcessedAt        *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PendingUpgrade) TableName() string {
	return "pending_upgrades"
}

func (p *PendingUpgrade) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = PendingUpgradeStatusPending
	}
	return nil
}

// IsDue reports whether the upgrade is still pending and its start date has passed.
func (p *PendingUpgrade) IsDue(now time.Time) bool {
	return p.Status == PendingUpgradeStatusPending && !p.ScheduledStartDate.After(now)
}

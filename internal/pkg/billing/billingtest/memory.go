// Package billingtest provides an in-memory billing.Repository for tests.
package billingtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vdcapital/billing/app/models"
	"github.com/vdcapital/billing/internal/pkg/billing"
)

// MemoryRepository mirrors the GORM repository's semantics on maps.
type MemoryRepository struct {
	mu       sync.Mutex
	nextSub  uint
	nextEvt  uint
	subs     map[string]*models.Subscription
	upgrades map[string]*models.PendingUpgrade
	events   []*models.BillingWebhookEvent

	// Fail* inject errors into the matching operation.
	FailUpsert      error
	FailUpdate      error
	FailListDue     error
	FailApplyFor    map[string]error // keyed by upgrade id
	FailEventCreate error

	// Applied records upgrade ids in the order they were applied.
	Applied []string
	// ListDueDeadline is the deadline of the last ListDueUpgrades context,
	// zero when it had none.
	ListDueDeadline time.Time
}

var _ billing.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		subs:         make(map[string]*models.Subscription),
		upgrades:     make(map[string]*models.PendingUpgrade),
		FailApplyFor: make(map[string]error),
	}
}

// PutSubscription stores a copy of sub, assigning an id if needed.
func (r *MemoryRepository) PutSubscription(sub models.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == 0 {
		r.nextSub++
		sub.ID = r.nextSub
	}
	r.subs[sub.UserID] = &sub
}

// PutUpgrade stores a copy of u with the defaults the model hook would set.
func (r *MemoryRepository) PutUpgrade(u models.PendingUpgrade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = u.BeforeCreate(nil)
	r.upgrades[u.ID] = &u
}

// Subscription returns a copy of the stored row.
func (r *MemoryRepository) Subscription(userID string) (models.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[userID]
	if !ok {
		return models.Subscription{}, false
	}
	return *s, true
}

func (r *MemoryRepository) SubscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *MemoryRepository) Upgrade(id string) (models.PendingUpgrade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.upgrades[id]
	if !ok {
		return models.PendingUpgrade{}, false
	}
	return *u, true
}

// Events returns copies of the delivery log in insertion order.
func (r *MemoryRepository) Events() []models.BillingWebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BillingWebhookEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out
}

func (r *MemoryRepository) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpsert != nil {
		return r.FailUpsert
	}
	if existing, ok := r.subs[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		r.nextSub++
		sub.ID = r.nextSub
		sub.CreatedAt = sub.UpdatedAt
	}
	cp := *sub
	r.subs[sub.UserID] = &cp
	return nil
}

func (r *MemoryRepository) GetSubscriptionByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[userID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) UpdateStatusByUserID(_ context.Context, userID, status string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdate != nil {
		return 0, r.FailUpdate
	}
	s, ok := r.subs[userID]
	if !ok {
		return 0, nil
	}
	s.Status = status
	s.UpdatedAt = at
	return 1, nil
}

func (r *MemoryRepository) UpdateStatusByProviderSubscriptionID(_ context.Context, provider, providerSubscriptionID, status string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdate != nil {
		return 0, r.FailUpdate
	}
	var n int64
	for _, s := range r.subs {
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			s.Status = status
			s.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListDueUpgrades(ctx context.Context, now time.Time) ([]models.PendingUpgrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListDueDeadline, _ = ctx.Deadline()
	if r.FailListDue != nil {
		return nil, r.FailListDue
	}
	var due []models.PendingUpgrade
	for _, u := range r.upgrades {
		if u.IsDue(now) {
			due = append(due, *u)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledStartDate.Equal(due[j].ScheduledStartDate) {
			return due[i].ScheduledStartDate.Before(due[j].ScheduledStartDate)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (r *MemoryRepository) ApplyUpgrade(_ context.Context, upgrade *models.PendingUpgrade, window billing.UpgradeWindow, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailApplyFor[upgrade.ID]; err != nil {
		return err
	}
	stored, ok := r.upgrades[upgrade.ID]
	if !ok || stored.Status != models.PendingUpgradeStatusPending {
		return billing.ErrUpgradeAlreadyProcessed
	}
	sub, ok := r.subs[upgrade.UserID]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}

	start, end := window.Start, window.End
	sub.PlanCode = upgrade.NewPlanCode
	sub.PlanName = upgrade.NewPlanName
	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end
	sub.Status = models.SubscriptionStatusActive
	sub.UpdatedAt = now

	processedAt := now
	stored.Status = models.PendingUpgradeStatusProcessed
	stored.ProcessedAt = &processedAt
	stored.UpdatedAt = now
	r.Applied = append(r.Applied, upgrade.ID)
	return nil
}

func (r *MemoryRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailEventCreate != nil {
		return false, nil, r.FailEventCreate
	}
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			e.Deliveries++
			cp := *e
			return false, &cp, nil
		}
	}
	r.nextEvt++
	cp := *event
	cp.ID = r.nextEvt
	if cp.Deliveries == 0 {
		cp.Deliveries = 1
	}
	r.events = append(r.events, &cp)
	out := cp
	return true, &out, nil
}

func (r *MemoryRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return errors.New("webhook event not found")
}

// StubLocker is a Locker with a fixed answer.
type StubLocker struct {
	mu       sync.Mutex
	Held     bool
	Err      error
	Released int
	Calls    int
}

func (l *StubLocker) TryLock(_ context.Context, _ string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls++
	if l.Err != nil {
		return nil, false, l.Err
	}
	if l.Held {
		return nil, false, nil
	}
	l.Held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.Held = false
		l.Released++
	}, true, nil
}
